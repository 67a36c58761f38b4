package models

import "bytes"

// PairState reports whether the client holds a trust credential for a host.
type PairState int

const (
	PairStateUnknown PairState = iota
	PairStateUnpaired
	PairStatePaired
)

// String implements fmt.Stringer.
func (s PairState) String() string {
	switch s {
	case PairStateUnpaired:
		return "unpaired"
	case PairStatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// HostState is the last observed connectivity of a host.
type HostState int

const (
	HostStateUnknown HostState = iota
	HostStateOnline
	HostStateOffline
)

// String implements fmt.Stringer.
func (s HostState) String() string {
	switch s {
	case HostStateOnline:
		return "online"
	case HostStateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Host represents one remote streaming machine.
//
// Empty strings and nil slices mean "not known". UUID is the only identity
// used to match a host across discovery cycles.
type Host struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`

	Address         string `json:"address,omitempty"`
	LocalAddress    string `json:"local_address,omitempty"`
	ExternalAddress string `json:"external_address,omitempty"`
	IPv6Address     string `json:"ipv6_address,omitempty"`
	ActiveAddress   string `json:"active_address,omitempty"`
	MAC             string `json:"mac,omitempty"`
	HTTPSPort       uint16 `json:"https_port,omitempty"`

	PairState PairState `json:"pair_state"`
	State     HostState `json:"state"`

	ServerCert             []byte `json:"server_cert,omitempty"`
	ServerCodecModeSupport int32  `json:"server_codec_mode_support,omitempty"`
	CurrentGame            string `json:"current_game,omitempty"`
	IsNvidiaServerSoftware bool   `json:"is_nvidia_server_software"`

	UpdatePending bool `json:"-"`

	Apps []*App `json:"apps,omitempty"`
}

// RefreshActiveAddress recomputes ActiveAddress from the known addresses in
// priority order: local, external, raw, IPv6.
func (h *Host) RefreshActiveAddress() {
	h.ActiveAddress = firstNonEmpty(h.LocalAddress, h.ExternalAddress, h.Address, h.IPv6Address)
}

// Normalize enforces the host invariants that do not depend on history.
func (h *Host) Normalize() {
	if len(h.ServerCert) == 0 {
		h.ServerCert = nil
		h.PairState = PairStateUnpaired
	}
	h.RefreshActiveAddress()
}

// Merge copies the observed fields of other into h.
//
// A field that is empty in other never clears a populated field in h. Pair and
// connectivity state are applied only when other carries an observation. The
// running app and server flavour are applied only when other was observed
// online, because only a successful response reports them. Apps and the
// transient UpdatePending flag are not touched. Merge reports whether any
// field changed.
func (h *Host) Merge(other Host) bool {
	before := h.snapshotFields()

	if other.UUID != "" && h.UUID == "" {
		h.UUID = other.UUID
	}
	mergeString(&h.Name, other.Name)
	mergeString(&h.Address, other.Address)
	mergeString(&h.LocalAddress, other.LocalAddress)
	mergeString(&h.ExternalAddress, other.ExternalAddress)
	mergeString(&h.IPv6Address, other.IPv6Address)
	mergeString(&h.MAC, other.MAC)
	if other.HTTPSPort != 0 {
		h.HTTPSPort = other.HTTPSPort
	}
	if len(other.ServerCert) > 0 {
		h.ServerCert = bytes.Clone(other.ServerCert)
	}
	if other.ServerCodecModeSupport != 0 {
		h.ServerCodecModeSupport = other.ServerCodecModeSupport
	}
	if other.PairState != PairStateUnknown {
		h.PairState = other.PairState
	}
	if other.State != HostStateUnknown {
		h.State = other.State
	}
	if other.State == HostStateOnline {
		h.CurrentGame = other.CurrentGame
		h.IsNvidiaServerSoftware = other.IsNvidiaServerSoftware
	}
	h.Normalize()

	return before != h.snapshotFields()
}

// Clone returns a deep copy of h, including its apps.
func (h *Host) Clone() Host {
	out := *h
	out.ServerCert = bytes.Clone(h.ServerCert)
	out.Apps = make([]*App, 0, len(h.Apps))
	for _, app := range h.Apps {
		cp := *app
		out.Apps = append(out.Apps, &cp)
	}
	return out
}

// App returns the app with the given id.
func (h *Host) App(id string) (*App, bool) {
	for _, app := range h.Apps {
		if app.ID == id {
			return app, true
		}
	}
	return nil, false
}

// hostFields is the comparable subset of Host used to detect changes.
type hostFields struct {
	uuid, name                                  string
	address, local, external, ipv6, active, mac string
	httpsPort                                   uint16
	pairState                                   PairState
	state                                       HostState
	cert                                        string
	codecSupport                                int32
	currentGame                                 string
	nvidia                                      bool
}

func (h *Host) snapshotFields() hostFields {
	return hostFields{
		uuid:         h.UUID,
		name:         h.Name,
		address:      h.Address,
		local:        h.LocalAddress,
		external:     h.ExternalAddress,
		ipv6:         h.IPv6Address,
		active:       h.ActiveAddress,
		mac:          h.MAC,
		httpsPort:    h.HTTPSPort,
		pairState:    h.PairState,
		state:        h.State,
		cert:         string(h.ServerCert),
		codecSupport: h.ServerCodecModeSupport,
		currentGame:  h.CurrentGame,
		nvidia:       h.IsNvidiaServerSoftware,
	}
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
