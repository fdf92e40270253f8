package dxf

import "strings"

// AppName is the registered XDATA application carrying layout metadata.
const AppName = "FACTORY_ARCHITECT"

// Metadata TYPE values.
const (
	TypeMachineNode    = "MACHINE_NODE"
	TypeConnectionEdge = "CONNECTION_EDGE"
)

// Metadata keys.
const (
	KeyType     = "TYPE"
	KeyID       = "ID"
	KeyName     = "NAME"
	KeyKind     = "KIND"
	KeyLength   = "LENGTH"
	KeyWidth    = "WIDTH"
	KeyFrom     = "FROM"
	KeyTo       = "TO"
	KeyConnType = "CONN_TYPE"
)

// field is one KEY:VALUE metadata string.
type field struct {
	key, value string
}

func (g *groupWriter) xdata(fields ...field) {
	g.str(1001, AppName)
	for _, f := range fields {
		g.str(1000, f.key+":"+sanitizeText(f.value))
	}
}

// metadata is the decoded side-channel of one primitive.
type metadata map[string]string

// parseMetadata collects the KEY:VALUE strings that follow the
// FACTORY_ARCHITECT application marker. Data of other applications is
// ignored. The first occurrence of a key wins.
func parseMetadata(groups []pair) metadata {
	md := metadata{}
	inApp := false
	for _, p := range groups {
		switch p.code {
		case 1001:
			inApp = strings.TrimSpace(p.value) == AppName
		case 1000:
			if !inApp {
				continue
			}
			key, value, ok := strings.Cut(p.value, ":")
			if !ok {
				continue
			}
			key = strings.ToUpper(strings.TrimSpace(key))
			if _, exists := md[key]; !exists {
				md[key] = value
			}
		}
	}
	return md
}

func (m metadata) get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}
