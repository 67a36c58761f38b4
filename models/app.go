package models

// App represents one application installed on a host.
//
// HostUUID is a navigation handle only: resolve it through the directory that
// owns the host. It may be empty while the app is detached.
type App struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	HDRSupported bool   `json:"hdr_supported"`
	Hidden       bool   `json:"hidden"`
	HostUUID     string `json:"host_uuid,omitempty"`
}
