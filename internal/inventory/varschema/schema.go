// Package varschema checks host and group variables before they are stored:
// every name must be a valid Ansible variable name, and the well-known
// connection variables must carry values Ansible will accept.
package varschema

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type VarType string

const (
	TString VarType = "string"
	TBool   VarType = "bool"
	TInt    VarType = "int"
	THost   VarType = "host" // имя хоста или IP
	TPath   VarType = "path"
)

type VarDef struct {
	Key      string
	Type     VarType
	Example  string
	Validate func(string) (any, error) // нормализация одного значения
}

/* ——— validators ——— */

var (
	reName     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reHostname = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))*$`)
	reUser     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,31}\$?$`)
)

// reserved — имена, которые Ansible не даёт переопределить.
var reserved = map[string]struct{}{
	"hostvars": {}, "groups": {}, "group_names": {}, "inventory_hostname": {},
	"inventory_hostname_short": {}, "playbook_dir": {}, "omit": {},
}

func normHost(v string) (any, error) {
	s := strings.TrimSpace(v)
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap().String(), nil
	}
	s = strings.ToLower(s)
	if s == "" || len(s) > 253 || !reHostname.MatchString(s) {
		return nil, errors.New("invalid host name or address")
	}
	return s, nil
}
func normBool(v string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return nil, errors.New("invalid bool")
}
func normInt(min, max int) func(string) (any, error) {
	return func(v string) (any, error) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, errors.New("invalid int")
		}
		if n < min || n > max {
			return nil, errors.Errorf("int out of range [%d..%d]", min, max)
		}
		return n, nil
	}
}
func normUser(v string) (any, error) {
	s := strings.TrimSpace(v)
	if !reUser.MatchString(s) {
		return nil, errors.New("invalid user name")
	}
	return s, nil
}
func normPath(v string) (any, error) {
	s := strings.TrimSpace(v)
	if s == "" || !(strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~")) {
		return nil, errors.New("absolute path expected")
	}
	return s, nil
}
func oneOf(vals ...string) func(string) (any, error) {
	return func(v string) (any, error) {
		s := strings.ToLower(strings.TrimSpace(v))
		for _, x := range vals {
			if s == x {
				return s, nil
			}
		}
		return nil, errors.Errorf("must be %s", strings.Join(vals, "|"))
	}
}

/* ——— catalog ——— */

var Catalog = []VarDef{
	// Connection
	{Key: "ansible_host", Type: THost, Example: "10.0.0.12", Validate: normHost},
	{Key: "ansible_port", Type: TInt, Example: "22", Validate: normInt(1, 65535)},
	{Key: "ansible_user", Type: TString, Example: "deploy", Validate: normUser},
	{Key: "ansible_connection", Type: TString, Example: "ssh|local|paramiko|winrm|psrp|docker",
		Validate: oneOf("ssh", "local", "paramiko", "winrm", "psrp", "docker")},
	{Key: "ansible_ssh_private_key_file", Type: TPath, Example: "~/.ssh/id_ed25519", Validate: normPath},
	{Key: "ansible_python_interpreter", Type: TPath, Example: "/usr/bin/python3", Validate: normPath},
	{Key: "ansible_shell_type", Type: TString, Example: "sh|csh|fish|powershell|cmd",
		Validate: oneOf("sh", "csh", "fish", "powershell", "cmd")},

	// Privilege escalation
	{Key: "ansible_become", Type: TBool, Example: "true", Validate: normBool},
	{Key: "ansible_become_user", Type: TString, Example: "root", Validate: normUser},
	{Key: "ansible_become_method", Type: TString, Example: "sudo|su|doas|runas",
		Validate: oneOf("sudo", "su", "doas", "pbrun", "pfexec", "runas", "dzdo", "ksu", "machinectl")},
}

/* ——— registry ——— */

var byKey map[string]VarDef

func init() {
	byKey = make(map[string]VarDef, len(Catalog))
	for _, d := range Catalog {
		byKey[d.Key] = d
	}
}

func Def(key string) (VarDef, bool) { d, ok := byKey[key]; return d, ok }

// ValidName reports whether key may be used as a variable name.
func ValidName(key string) bool {
	if _, bad := reserved[key]; bad {
		return false
	}
	return reName.MatchString(key)
}

// ValidateOne normalizes one value; unknown keys pass through untouched.
func ValidateOne(key string, value any) (any, error) {
	if !ValidName(key) {
		return nil, errors.Errorf("invalid variable name: %q", key)
	}
	def, ok := Def(key)
	if !ok {
		return value, nil
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case bool, float64, float32, int, int64, uint, uint64:
		s = fmt.Sprint(v)
	default:
		return nil, errors.Errorf("%s: %s value expected", key, def.Type)
	}
	out, err := def.Validate(s)
	if err != nil {
		return nil, errors.Wrap(err, key)
	}
	return out, nil
}

// Normalize checks every variable of vars and returns a normalized copy.
func Normalize(vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		n, err := ValidateOne(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}
