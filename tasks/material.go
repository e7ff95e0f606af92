package tasks

import (
	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/matsig"
	"github.com/sethfduke/chessdesk/messages"
)

const isReachableSchema = `{
	"type": "object",
	"properties": {
		"start": {"type": "string"},
		"target": {"type": "string"},
		"had_promotion": {"type": "boolean"},
		"had_underpromotion": {"type": "boolean"}
	},
	"required": ["start", "target"]
}`

// ReachableArgs are the arguments of material::isReachable. Signatures
// use the display form, e.g. "QRR80:QR70".
type ReachableArgs struct {
	Start             string `json:"start"`
	Target            string `json:"target"`
	HadPromotion      bool   `json:"had_promotion"`
	HadUnderpromotion bool   `json:"had_underpromotion"`
}

// Reachable is the payload of material::isReachable::result.
type Reachable struct {
	Reachable bool   `json:"reachable"`
	Start     string `json:"start"`
	Target    string `json:"target"`
}

// IsReachable answers whether the start material can still become the
// target material.
func IsReachable(req dispatch.Request, args ReachableArgs) error {
	start, err := matsig.Parse(args.Start)
	if err != nil {
		return err
	}
	target, err := matsig.Parse(args.Target)
	if err != nil {
		return err
	}
	ok := matsig.IsReachable(start, target, args.HadPromotion, args.HadUnderpromotion)
	return req.Send(messages.EventName(req.Name(), "result"), Reachable{
		Reachable: ok,
		Start:     start.String(),
		Target:    target.String(),
	})
}
