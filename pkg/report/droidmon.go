package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/triagehq/detonator/pkg/similarity"
)

// droidmonConnRE parses the method/URI/version triple of a logged Android
// HTTP connection, e.g. "GET http://host:8080/path HTTP/1.1".
var droidmonConnRE = regexp.MustCompile(`([A-Z]{3,5}) (https?://([a-zA-Z0-9.\-]+):?([0-9]{2,5})?([^ ]+)) HTTP/([0-9.]+)`)

// processDroidmon handles the Android instrumentation sub-report. Hooked
// Java classes are similarity-hashed as a fingerprint; HTTP-like
// connection strings are parsed and merged into the same raw network map
// the correlator consumes, so Android traffic and pcap traffic end up in
// one flow view.
func (n *Normalizer) processDroidmon(droidmon, network RawReport) []*Finding {
	var findings []*Finding

	droidmonSec := NewFinding(KindBehavior, "Droidmon")

	if raws := droidmon.MapSlice("raw"); len(raws) > 0 {
		classSet := make(map[string]bool)
		for _, entry := range raws {
			if cls := entry.String("class"); cls != "" {
				classSet[cls] = true
			}
		}
		if len(classSet) > 0 {
			classes := make([]string, 0, len(classSet))
			for cls := range classSet {
				classes = append(classes, cls)
			}
			sort.Strings(classes)
			if h, err := similarity.Hash([]byte(strings.Join(classes, ""))); err == nil {
				// Tag the chunk parts, not the block size: the size
				// varies with input length and carries no signal.
				if parts := strings.SplitN(h, ":", 3); len(parts) == 3 {
					droidmonSec.AddTag(TagSsdeepClasses, parts[1])
					droidmonSec.AddTag(TagSsdeepClasses, parts[2])
				}
			}
		}
	}

	for _, conn := range droidmon.MapSlice("httpConnections") {
		m := droidmonConnRE.FindStringSubmatch(conn.String("request"))
		if m == nil {
			continue
		}
		method, uri, host, port, path, version := m[1], m[2], m[3], m[4], m[5], m[6]
		mergeHTTPConnection(network, method, uri, host, port, path, version)
	}

	if sms := droidmon.MapSlice("sms"); len(sms) > 0 {
		smsSec := NewFinding(KindBehavior, "SMS Activity")
		smsSec.Heuristic = 1
		for _, line := range renderFixedWidth(sms) {
			smsSec.AddLine(line)
		}
		for _, entry := range sms {
			if dest := entry.String("dest_number"); dest != "" {
				droidmonSec.AddTag(TagPhoneNumber, dest)
			}
		}
		findings = append(findings, smsSec)
	}

	if keys := droidmon.MapSlice("crypto_keys"); len(keys) > 0 {
		cryptoSec := NewFinding(KindBehavior, "Crypto Keys")
		cryptoSec.Heuristic = 2
		for _, line := range renderFixedWidth(keys) {
			cryptoSec.AddLine(line)
		}
		for _, key := range keys {
			if t := key.String("type"); t != "" {
				droidmonSec.AddTag(TagCryptoType, t)
			}
		}
		findings = append(findings, cryptoSec)
	}

	if len(droidmonSec.Tags) > 0 {
		findings = append(findings, droidmonSec)
	}
	return findings
}

// mergeHTTPConnection folds one parsed Android HTTP connection into the
// raw network map's http list, bumping the count of an already-seen
// logical request instead of appending a duplicate.
func mergeHTTPConnection(network RawReport, method, uri, host, port, path, version string) {
	httpList := network.Slice("http")
	for _, v := range httpList {
		entry := asMap(v)
		if entry == nil {
			continue
		}
		if entry.String("uri") == uri && entry.String("method") == method && entry.String("port") == port {
			entry["count"] = entry.Int("count", 0) + 1
			return
		}
	}
	newEntry := map[string]interface{}{
		"count":   1,
		"body":    "",
		"uri":     uri,
		"method":  method,
		"host":    host,
		"version": version,
		"path":    path,
		"data":    "",
	}
	if port != "" {
		newEntry["port"] = port
	}
	network["http"] = append(httpList, newEntry)
}

// renderFixedWidth renders a list of flat maps as aligned "key: value"
// rows, keys sorted, so output is deterministic.
func renderFixedWidth(entries []RawReport) []string {
	widths := make(map[string]int)
	for _, entry := range entries {
		for k, v := range entry {
			if w := len(asString(v)) + 4; w > widths[k] {
				widths[k] = w
			}
		}
	}
	var out []string
	for _, entry := range entries {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %-*s", k, widths[k], asString(entry[k]))
		}
		out = append(out, strings.TrimRight(b.String(), " "))
	}
	return out
}
