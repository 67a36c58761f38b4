package transport

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"

	"streamlink/models"
)

const (
	statusOK = 200

	nvidiaStateMarker = "MJOLNIR"
)

// responseStatus is the status carried on every XML response root.
type responseStatus struct {
	Code    int    `xml:"status_code,attr"`
	Message string `xml:"status_message,attr"`
}

func (s responseStatus) ok() bool {
	return s.Code == statusOK
}

func (s responseStatus) err() error {
	if s.ok() {
		return nil
	}
	return &StatusError{Code: s.Code, Message: s.Message}
}

// ServerInfo is the decoded serverinfo response.
type ServerInfo struct {
	XMLName xml.Name `xml:"root"`
	responseStatus

	Hostname               string `xml:"hostname"`
	AppVersion             string `xml:"appversion"`
	GFEVersion             string `xml:"GfeVersion"`
	UniqueID               string `xml:"uniqueid"`
	HTTPSPort              string `xml:"HttpsPort"`
	ExternalIP             string `xml:"ExternalIP"`
	LocalIP                string `xml:"LocalIP"`
	MAC                    string `xml:"mac"`
	ServerCodecModeSupport string `xml:"ServerCodecModeSupport"`
	PairStatus             string `xml:"PairStatus"`
	CurrentGame            string `xml:"currentgame"`
	State                  string `xml:"state"`
}

// Host converts the response into an observation of the host reached at
// contacted. The observation is marked online.
func (info *ServerInfo) Host(contacted string) models.Host {
	host := models.Host{
		UUID:                   strings.TrimSpace(info.UniqueID),
		Name:                   strings.TrimSpace(info.Hostname),
		MAC:                    normalizeMAC(info.MAC),
		State:                  models.HostStateOnline,
		PairState:              models.PairStateUnpaired,
		IsNvidiaServerSoftware: strings.Contains(info.State, nvidiaStateMarker),
	}

	contactedHost, contactedPort := models.SplitAddress(contacted, models.DefaultHTTPPort)
	if ip := net.ParseIP(contactedHost); ip != nil && ip.To4() == nil {
		host.IPv6Address = contacted
	} else {
		host.Address = contacted
	}

	if ip := strings.TrimSpace(info.LocalIP); ip != "" {
		host.LocalAddress = net.JoinHostPort(ip, strconv.Itoa(contactedPort))
	}
	if ip := strings.TrimSpace(info.ExternalIP); ip != "" {
		host.ExternalAddress = net.JoinHostPort(ip, strconv.Itoa(models.DefaultHTTPPort))
	}
	if port, err := strconv.ParseUint(strings.TrimSpace(info.HTTPSPort), 10, 16); err == nil && port > 0 {
		host.HTTPSPort = uint16(port)
	}
	if codec, err := strconv.ParseInt(strings.TrimSpace(info.ServerCodecModeSupport), 10, 32); err == nil {
		host.ServerCodecModeSupport = int32(codec)
	}
	if strings.TrimSpace(info.PairStatus) == "1" {
		host.PairState = models.PairStatePaired
	}
	if game := strings.TrimSpace(info.CurrentGame); game != "0" {
		host.CurrentGame = game
	}

	return host
}

// normalizeMAC drops the placeholder the host reports when it has no MAC.
func normalizeMAC(mac string) string {
	mac = strings.TrimSpace(mac)
	if mac == "00:00:00:00:00:00" {
		return ""
	}
	return mac
}

// AppInfo is one entry of the applist response.
type AppInfo struct {
	Title        string `xml:"AppTitle"`
	ID           string `xml:"ID"`
	HDRSupported int    `xml:"IsHdrSupported"`
}

// App converts the entry to a detached app.
func (a AppInfo) App() *models.App {
	return &models.App{
		ID:           strings.TrimSpace(a.ID),
		Name:         strings.TrimSpace(a.Title),
		HDRSupported: a.HDRSupported == 1,
	}
}

type appListResponse struct {
	XMLName xml.Name `xml:"root"`
	responseStatus
	Apps []AppInfo `xml:"App"`
}

type cancelResponse struct {
	XMLName xml.Name `xml:"root"`
	responseStatus
	Cancel string `xml:"cancel"`
}

type pairResponse struct {
	XMLName xml.Name `xml:"root"`
	responseStatus
	Paired            string `xml:"paired"`
	PlainCert         string `xml:"plaincert"`
	ChallengeResponse string `xml:"challengeresponse"`
	PairingSecret     string `xml:"pairingsecret"`
}

func (r *pairResponse) paired() bool {
	return strings.TrimSpace(r.Paired) == "1"
}

func decodeHexField(name, value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s: empty field", name)
	}
	return raw, nil
}
