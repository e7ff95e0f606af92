package messages

// Error is the payload of a terminal failure frame.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Msg     string `json:"msg"`
}

// Done is the payload of a terminal success frame.
type Done struct {
	OK bool `json:"ok"`
}

// Progress is the payload of a progress event. Progress runs from 0 to 100.
type Progress struct {
	Activity string  `json:"activity"`
	Progress float64 `json:"progress"`
}

// Joined is sent with id 0 when a connection opens.
type Joined struct {
	ConnectionID  string `json:"connection_id"`
	ServerVersion string `json:"server_version"`
}
