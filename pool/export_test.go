package pool

import "github.com/caffeineduck/atomhost/host"

// HostAt returns the host currently in slot i.
func (p *Pool) HostAt(i int) *host.Host {
	h, _ := p.slot(i)
	return h
}
