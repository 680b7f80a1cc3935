package inventory

import (
	"context"
	"encoding/json"
	"strings"

	"hostinv/internal/models"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AnsibleHostVar — адрес подключения, который Ansible берёт из hostvars.
const AnsibleHostVar = "ansible_host"

type Group struct {
	Hosts []string       `json:"hosts" yaml:"hosts"`
	Vars  map[string]any `json:"vars" yaml:"vars"`
}

// Document — вывод `--list` динамического инвентаря:
//
//	{"<group>": {"hosts": [...], "vars": {...}}, "_meta": {"hostvars": {"<host>": {...}}}}
type Document struct {
	Groups   map[string]Group
	HostVars map[string]map[string]any
}

func (d Document) asMap() map[string]any {
	out := make(map[string]any, len(d.Groups)+1)
	for name, g := range d.Groups {
		out[name] = g
	}
	out["_meta"] = map[string]any{"hostvars": d.HostVars}
	return out
}

func (d Document) MarshalJSON() ([]byte, error) { return json.Marshal(d.asMap()) }

func (d Document) MarshalYAML() (any, error) { return d.asMap(), nil }

// YAML renders d in the YAML inventory layout.
func (d Document) YAML() ([]byte, error) { return yaml.Marshal(d) }

// Inventory собирает инвентарь из включённых хостов. Непустой tag оставляет
// только группы с этим тегом (без учёта регистра) и только хосты этих групп.
func (r *Repo) Inventory(ctx context.Context, tag string) (Document, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	doc := Document{Groups: map[string]Group{}, HostVars: map[string]map[string]any{}}
	d := r.db.WithContext(ctx)

	var hosts []models.Host
	err := d.Preload("Groups.Tags").Where("enabled = ?", true).Order("name").Find(&hosts).Error
	if err != nil {
		return doc, errors.Wrap(err, "load hosts")
	}
	ips, err := boundIPs(ctx, r, hosts)
	if err != nil {
		return doc, err
	}

	// группы появляются по мере обхода хостов, как в исходном скрипте
	for _, h := range hosts {
		included := tag == ""
		for _, g := range h.Groups {
			if tag != "" && !hasTag(g, tag) {
				continue
			}
			included = true
			grp, ok := doc.Groups[g.Name]
			if !ok {
				grp = Group{Hosts: []string{}, Vars: orEmpty(g.GroupVars)}
			}
			grp.Hosts = append(grp.Hosts, h.Name)
			doc.Groups[g.Name] = grp
		}
		if included {
			doc.HostVars[h.Name] = hostVars(h, ips[h.ID])
		}
	}
	return doc, nil
}

// HostVars — переменные одного хоста (`--host`); для неизвестного или
// выключенного хоста пустой объект.
func (r *Repo) HostVars(ctx context.Context, name string) (map[string]any, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var hosts []models.Host
	err := r.db.WithContext(ctx).Where("name = ? AND enabled = ?", name, true).Limit(1).Find(&hosts).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load host %q", name)
	}
	if len(hosts) == 0 {
		return map[string]any{}, nil
	}
	ips, err := boundIPs(ctx, r, hosts)
	if err != nil {
		return nil, err
	}
	return hostVars(hosts[0], ips[hosts[0].ID]), nil
}

func boundIPs(ctx context.Context, r *Repo, hosts []models.Host) (map[uint]string, error) {
	byAddr := map[uint]uint{}
	ids := make([]uint, 0, len(hosts))
	for _, h := range hosts {
		if h.AddressID != nil {
			byAddr[*h.AddressID] = h.ID
			ids = append(ids, *h.AddressID)
		}
	}
	out := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var addrs []models.NetworkAddress
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&addrs).Error; err != nil {
		return nil, errors.Wrap(err, "load host addresses")
	}
	for _, a := range addrs {
		out[byAddr[a.ID]] = a.IPAddress
	}
	return out, nil
}

func hostVars(h models.Host, ip string) map[string]any {
	vars := make(map[string]any, len(h.HostVars)+1)
	for k, v := range h.HostVars {
		vars[k] = v
	}
	if _, set := vars[AnsibleHostVar]; !set && ip != "" {
		vars[AnsibleHostVar] = ip
	}
	return vars
}

func hasTag(g models.AnsibleGroup, tag string) bool {
	for _, t := range g.Tags {
		if strings.EqualFold(t.Name, tag) {
			return true
		}
	}
	return false
}
