package model

// Proxy kinds understood by the supervised process.
const (
	ProxySOCKS5 = "socks5"
	ProxyHTTPS  = "https"
)

// ProxyHop describes a forwarding proxy placed in front of the tor connection.
type ProxyHop struct {
	Type     string `json:"type" mapstructure:"type"` // socks5|https
	Addr     string `json:"addr" mapstructure:"addr"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`
}
