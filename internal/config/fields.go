package config

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/calvinalkan/mcu-app/internal/logging"
)

// Settings is the device configuration record.
type Settings struct {
	AdminPassword      string
	Hostname           string
	WifiSSID           string
	WifiPassword       string
	SyslogHost         string
	SyslogLevel        logging.Level
	SyslogMarkInterval uint32 // seconds; 0 disables marks
	DDNSURL            string
	DDNSPassword       string
	OTAEnabled         bool
	OTAPassword        string
}

// Defaults returns the settings used when no config file can be loaded.
func Defaults() Settings {
	return Settings{
		SyslogLevel: logging.LevelOff,
		OTAEnabled:  true,
	}
}

// Kind is the value type of a field.
type Kind uint8

// Field kinds and their wire types.
const (
	KindString Kind = iota + 1 // CBOR text
	KindUint                   // CBOR unsigned, 32-bit
	KindEnum                   // CBOR signed, a [logging.Level] ordinal
	KindBool                   // CBOR true/false
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindUint:
		return "uint"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field describes one persisted setting.
type Field struct {
	// Name is the map key in the config file.
	Name string

	Kind Kind

	// Secret fields are masked in status output.
	Secret bool

	str      func(*Settings) *string
	unsigned func(*Settings) *uint32
	enum     func(*Settings) *logging.Level
	boolean  func(*Settings) *bool

	// sanitize, if set, replaces plain assignment for string fields.
	sanitize func(string) string
}

// Fields is the declared field table. Listings follow table order; files
// hold keys in CBOR core deterministic order, shortest key first.
var Fields = []Field{
	{Name: "admin_password", Kind: KindString, Secret: true, str: func(s *Settings) *string { return &s.AdminPassword }},
	{Name: "hostname", Kind: KindString, str: func(s *Settings) *string { return &s.Hostname }},
	{Name: "wifi_ssid", Kind: KindString, str: func(s *Settings) *string { return &s.WifiSSID }},
	{Name: "wifi_password", Kind: KindString, Secret: true, str: func(s *Settings) *string { return &s.WifiPassword }},
	{
		Name: "syslog_host", Kind: KindString,
		str:      func(s *Settings) *string { return &s.SyslogHost },
		sanitize: SanitizeSyslogHost,
	},
	{Name: "syslog_level", Kind: KindEnum, enum: func(s *Settings) *logging.Level { return &s.SyslogLevel }},
	{Name: "syslog_mark_interval", Kind: KindUint, unsigned: func(s *Settings) *uint32 { return &s.SyslogMarkInterval }},
	{Name: "ddns_url", Kind: KindString, str: func(s *Settings) *string { return &s.DDNSURL }},
	{Name: "ddns_password", Kind: KindString, Secret: true, str: func(s *Settings) *string { return &s.DDNSPassword }},
	{Name: "ota_enabled", Kind: KindBool, boolean: func(s *Settings) *bool { return &s.OTAEnabled }},
	{Name: "ota_password", Kind: KindString, Secret: true, str: func(s *Settings) *string { return &s.OTAPassword }},
}

// LookupField returns the field called name.
func LookupField(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// SanitizeSyslogHost returns host if it is an IP address literal and ""
// otherwise.
func SanitizeSyslogHost(host string) string {
	addr, err := netip.ParseAddr(host)
	if err != nil || addr.Zone() != "" {
		return ""
	}

	return host
}

// setString assigns v, applying the field's sanitiser.
func (f Field) setString(s *Settings, v string) {
	if f.sanitize != nil {
		v = f.sanitize(v)
	}

	*f.str(s) = v
}

// Parse assigns text to the field in s.
//
// Strings are taken verbatim, unsigned values in decimal, enums by level
// name and booleans as on/off, true/false, yes/no or 1/0.
func (f Field) Parse(s *Settings, text string) error {
	switch f.Kind {
	case KindString:
		f.setString(s, text)
	case KindUint:
		v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s: %q is not an unsigned number up to %d", ErrInvalidValue, f.Name, text, uint32(math.MaxUint32))
		}

		*f.unsigned(s) = uint32(v)
	case KindEnum:
		v, err := logging.ParseLevel(text)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidValue, f.Name, err)
		}

		*f.enum(s) = v
	case KindBool:
		v, err := parseBool(text)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidValue, f.Name, err)
		}

		*f.boolean(s) = v
	}

	return nil
}

// Format renders the field value in s as Parse accepts it.
func (f Field) Format(s *Settings) string {
	switch f.Kind {
	case KindString:
		return *f.str(s)
	case KindUint:
		return strconv.FormatUint(uint64(*f.unsigned(s)), 10)
	case KindEnum:
		return f.enum(s).String()
	case KindBool:
		if *f.boolean(s) {
			return "on"
		}

		return "off"
	}

	return ""
}

func parseBool(text string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "on", "true", "yes", "1", "enabled":
		return true, nil
	case "off", "false", "no", "0", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not on or off", text)
	}
}
