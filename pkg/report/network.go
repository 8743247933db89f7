package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var literalIPRE = regexp.MustCompile(`^[0-9.]+$`)

// Flow is one correlated network interaction. Equality is structural:
// two flows with identical fields are the same flow regardless of which
// capture source produced them.
type Flow struct {
	// Port is the destination port, -1 when the capture had none.
	Port int `json:"port"`

	// URI and Method are set for HTTP-family flows.
	URI    string `json:"uri,omitempty"`
	Method string `json:"method,omitempty"`

	// Raw is the payload for SMTP flows.
	Raw string `json:"raw,omitempty"`

	// Answers holds DNS answers, rendered "data (type)".
	Answers []string `json:"answers,omitempty"`

	// ICMPType is the ICMP message type, -1 when not ICMP.
	ICMPType int `json:"icmp_type,omitempty"`
}

// key returns a structural identity string used for dedup.
func (f Flow) key() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s|%d", f.Port, f.URI, f.Method, f.Raw, strings.Join(f.Answers, ","), f.ICMPType)
}

// render returns a stable single-line representation of the flow.
func (f Flow) render() string {
	var parts []string
	if f.Method != "" {
		parts = append(parts, f.Method)
	}
	if f.URI != "" {
		parts = append(parts, f.URI)
	}
	if len(f.Answers) > 0 {
		parts = append(parts, strings.Join(f.Answers, ", "))
	}
	if f.Raw != "" {
		parts = append(parts, f.Raw)
	}
	if f.ICMPType >= 0 {
		parts = append(parts, fmt.Sprintf("type=%d", f.ICMPType))
	}
	if f.Port >= 0 {
		parts = append(parts, fmt.Sprintf("port=%d", f.Port))
	}
	return strings.Join(parts, "  ")
}

// flowGroup maps a peer (host, domain or query name) to its deduplicated
// flows for one protocol.
type flowGroup map[string][]Flow

// add appends a flow to the peer's set unless a structurally equal flow is
// already present. This makes repeated correlation idempotent.
func (g flowGroup) add(peer string, f Flow) {
	for _, seen := range g[peer] {
		if seen.key() == f.key() {
			return
		}
	}
	g[peer] = append(g[peer], f)
}

// NetworkResult is the correlated view of a report's network activity:
// per-peer, per-protocol deduplicated flows.
type NetworkResult struct {
	// HostFlows groups by IP peer; protocols are udp, tcp, smtp, icmp,
	// http, https.
	HostFlows map[string]map[string][]Flow

	// DomainFlows groups by domain; protocols are dns, http, https.
	DomainFlows map[string]map[string][]Flow
}

// Empty reports whether no peer at all was observed.
func (r *NetworkResult) Empty() bool {
	return len(r.HostFlows) == 0 && len(r.DomainFlows) == 0
}

// Correlator groups raw packet/connection records by peer and protocol,
// reconciling the alternate "extended" HTTP capture source into the
// canonical set.
type Correlator struct {
	// GuestIP is the analysis VM's own address; its flows are noise.
	GuestIP string

	// Whitelist suppresses known-infrastructure peers.
	Whitelist *Whitelist
}

// Correlate builds the normalized flow view from the raw network sub-tree.
func (c *Correlator) Correlate(network RawReport) *NetworkResult {
	hosts := hostList(network)

	udp := groupPlain(network.MapSlice("udp"), "dst")
	tcp := groupPlain(network.MapSlice("tcp"), "dst")
	smtp := groupSMTP(network.MapSlice("smtp"))
	icmp := groupICMP(network.MapSlice("icmp"))
	dns := groupDNS(network.MapSlice("dns"))

	http := groupHTTP(network.MapSlice("http"), "port")
	mergeExtended(http, groupHTTP(network.MapSlice("http_ex"), "dport"), "http", 80)
	https := groupHTTP(network.MapSlice("https"), "port")
	mergeExtended(https, groupHTTP(network.MapSlice("https_ex"), "dport"), "https", 443)

	// The backend's own host list is sometimes incomplete; any literal-IP
	// peer seen in a protocol group is a contacted address too.
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		seen[h] = true
	}
	for _, group := range []flowGroup{udp, tcp, http, https, icmp, smtp} {
		for peer := range group {
			if !seen[peer] && literalIPRE.MatchString(peer) {
				hosts = append(hosts, peer)
				seen[peer] = true
			}
		}
	}

	result := &NetworkResult{
		HostFlows:   make(map[string]map[string][]Flow),
		DomainFlows: make(map[string]map[string][]Flow),
	}

	hostProtos := []struct {
		name  string
		group flowGroup
	}{
		{"udp", udp}, {"tcp", tcp}, {"smtp", smtp},
		{"icmp", icmp}, {"http", http}, {"https", https},
	}
	for _, host := range hosts {
		if host == c.GuestIP || c.Whitelist.IsWhitelistedIP(host) {
			continue
		}
		// A contacted address with no correlated flows is still worth
		// reporting.
		if result.HostFlows[host] == nil {
			result.HostFlows[host] = map[string][]Flow{}
		}
		for _, p := range hostProtos {
			if flows, ok := p.group[host]; ok {
				addFlows(result.HostFlows, host, p.name, flows)
			}
		}
	}

	for _, domain := range domainList(network) {
		if c.Whitelist.IsWhitelistedDomain(domain) {
			continue
		}
		for _, p := range []struct {
			name  string
			group flowGroup
		}{{"dns", dns}, {"http", http}, {"https", https}} {
			if flows, ok := p.group[domain]; ok {
				addFlows(result.DomainFlows, domain, p.name, flows)
			}
		}
	}

	return result
}

func addFlows(dst map[string]map[string][]Flow, peer, protocol string, flows []Flow) {
	if flows == nil {
		return
	}
	if dst[peer] == nil {
		dst[peer] = make(map[string][]Flow)
	}
	merged := dst[peer][protocol]
	for _, f := range flows {
		dup := false
		for _, seen := range merged {
			if seen.key() == f.key() {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, f)
		}
	}
	dst[peer][protocol] = merged
}

// Finding renders the correlated flows as the "Network Activity" finding
// with IP-flow and domain-flow sub-findings. Peers and protocols are
// emitted in lexicographic order so output is deterministic.
func (r *NetworkResult) Finding() *Finding {
	network := NewFinding(KindNetwork, "Network Activity")

	if len(r.HostFlows) > 0 {
		hostsSec := NewFinding(KindNetwork, "IP Flows")
		hostsSec.Heuristic = 1001
		for _, host := range sortedKeys(r.HostFlows) {
			network.AddTag(TagNetworkIP, host)
			protocols := r.HostFlows[host]
			for _, protocol := range sortedProtoKeys(protocols) {
				for _, flow := range protocols[protocol] {
					if strings.Contains(protocol, "http") && flow.URI != "" {
						network.AddTag(TagNetworkURI, flow.URI)
					}
					hostsSec.AddLine(fmt.Sprintf("%-8s%-19s%s", protocol, host, flow.render()))
				}
			}
			if len(protocols) == 0 {
				hostsSec.AddLine(fmt.Sprintf("%-8s%s", "-", host))
			}
		}
		network.AddSub(hostsSec)
	}

	if len(r.DomainFlows) > 0 {
		domainsSec := NewFinding(KindNetwork, "Domain Flows")
		domainsSec.Heuristic = 1000
		for _, domain := range sortedKeys(r.DomainFlows) {
			network.AddTag(TagNetworkDomain, domain)
			protocols := r.DomainFlows[domain]
			for _, protocol := range sortedProtoKeys(protocols) {
				for _, flow := range protocols[protocol] {
					if strings.Contains(protocol, "http") && flow.URI != "" {
						network.AddTag(TagNetworkURI, flow.URI)
					}
					domainsSec.AddLine(fmt.Sprintf("%-8s%-28s%s", protocol, domain, flow.render()))
				}
			}
		}
		network.AddSub(domainsSec)
	}

	return network
}

// hostList extracts the backend's contacted-host list. Newer backends emit
// a list of {ip: ...} maps, older ones a bare string list.
func hostList(network RawReport) []string {
	var hosts []string
	for _, v := range network.Slice("hosts") {
		switch h := v.(type) {
		case string:
			hosts = append(hosts, h)
		case map[string]interface{}:
			if ip := asString(h["ip"]); ip != "" {
				hosts = append(hosts, ip)
			}
		}
	}
	return hosts
}

func domainList(network RawReport) []string {
	var domains []string
	for _, entry := range network.MapSlice("domains") {
		if d := entry.String("domain"); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

func groupPlain(records []RawReport, groupBy string) flowGroup {
	g := make(flowGroup)
	for _, rec := range records {
		peer := rec.String(groupBy)
		if peer == "" {
			continue
		}
		g.add(peer, Flow{Port: int(rec.Int("dport", -1)), ICMPType: -1})
	}
	return g
}

func groupSMTP(records []RawReport) flowGroup {
	g := make(flowGroup)
	for _, rec := range records {
		peer := rec.String("dst")
		if peer == "" {
			continue
		}
		g.add(peer, Flow{Port: -1, Raw: rec.String("raw"), ICMPType: -1})
	}
	return g
}

func groupICMP(records []RawReport) flowGroup {
	g := make(flowGroup)
	for _, rec := range records {
		peer := rec.String("dst")
		if peer == "" {
			continue
		}
		g.add(peer, Flow{Port: -1, ICMPType: int(rec.Int("type", -1))})
	}
	return g
}

func groupDNS(records []RawReport) flowGroup {
	g := make(flowGroup)
	for _, rec := range records {
		peer := rec.String("request")
		if peer == "" {
			continue
		}
		var answers []string
		for _, ans := range rec.MapSlice("answers") {
			data := ans.String("data")
			if t := ans.String("type"); t != "" {
				answers = append(answers, fmt.Sprintf("%s (%s)", data, t))
			} else if data != "" {
				answers = append(answers, data)
			}
		}
		g.add(peer, Flow{Port: -1, Answers: answers, ICMPType: -1})
	}
	return g
}

func groupHTTP(records []RawReport, portField string) flowGroup {
	g := make(flowGroup)
	for _, rec := range records {
		peer := rec.String("host")
		if peer == "" {
			continue
		}
		g.add(peer, Flow{
			Port:     int(rec.Int(portField, -1)),
			URI:      rec.String("uri"),
			Method:   rec.String("method"),
			ICMPType: -1,
		})
	}
	return g
}

// mergeExtended reconciles the alternate-capture HTTP groups into the
// canonical set. Extended records carry a bare path in their uri field, so
// a full URI is reconstructed from host, port and path; the default port
// is elided. Merging is structural, so the same logical request captured
// by both sources appears once.
func mergeExtended(canonical, extended flowGroup, scheme string, defaultPort int) {
	for host, flows := range extended {
		for _, f := range flows {
			if f.Port == defaultPort || f.Port < 0 {
				f.URI = fmt.Sprintf("%s://%s%s", scheme, host, f.URI)
			} else {
				f.URI = fmt.Sprintf("%s://%s:%d%s", scheme, host, f.Port, f.URI)
			}
			canonical.add(host, f)
		}
	}
}

func sortedKeys(m map[string]map[string][]Flow) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedProtoKeys(m map[string][]Flow) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
