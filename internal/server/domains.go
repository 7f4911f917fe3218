package server

import (
	"net"
	"strings"

	"github.com/quantmind-br/docbundle/internal/utils"
)

// Domain maps a custom hostname to an owner/repository path
type Domain struct {
	Hostname string
	Path     string
}

// Domains is the custom-domain table. Lookups work in both directions.
type Domains struct {
	byHost map[string]string
	byPath map[string]string
}

// NewDomains builds the table. Hostnames are matched case-insensitively;
// a later entry for the same hostname or path replaces an earlier one.
func NewDomains(entries []Domain) *Domains {
	d := &Domains{
		byHost: make(map[string]string, len(entries)),
		byPath: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		host := strings.ToLower(strings.TrimSpace(e.Hostname))
		path := strings.Trim(strings.TrimSpace(e.Path), "/")
		if host == "" || path == "" {
			continue
		}
		d.byHost[host] = path
		d.byPath[path] = host
	}
	return d
}

// Len returns the number of hostnames in the table
func (d *Domains) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byHost)
}

// PathFor returns the owner/repository path served at host.
// host may carry a port.
func (d *Domains) PathFor(host string) (string, bool) {
	if d == nil {
		return "", false
	}
	path, ok := d.byHost[normalizeHost(host)]
	return path, ok
}

// RepositoryFor returns the owner and repository served at host
func (d *Domains) RepositoryFor(host string) (owner, repo string, ok bool) {
	path, ok := d.PathFor(host)
	if !ok {
		return "", "", false
	}
	owner, repo, err := utils.SplitRepository(path)
	if err != nil {
		return "", "", false
	}
	return owner, repo, true
}

// HostFor returns the custom hostname of an owner/repository path
func (d *Domains) HostFor(path string) (string, bool) {
	if d == nil {
		return "", false
	}
	host, ok := d.byPath[strings.Trim(path, "/")]
	return host, ok
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
