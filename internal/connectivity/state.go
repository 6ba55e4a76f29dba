package connectivity

// State is the monitor's view of network reachability.
type State string

const (
	StateOffline State = "offline"
	StateOnline  State = "online"
)

func (s State) Online() bool { return s == StateOnline }

// Change is the payload published on every offline/online transition.
type Change struct {
	State  State  `json:"state"`
	Source string `json:"source"` // "probe" or "external"
}
