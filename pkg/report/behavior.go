package report

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/triagehq/detonator/pkg/similarity"
)

var (
	uuidRE    = regexp.MustCompile(`\{([0-9A-Fa-f]{8}-(?:[0-9A-Fa-f]{4}-){3}[0-9A-Fa-f]{12})\}`)
	userSIDRE = regexp.MustCompile(`S-1-5-21-\d+-\d+-\d+-\d+`)
)

// sidPlaceholder replaces machine-specific security identifiers in registry
// keys. Per-machine SIDs are not discriminating signal and would defeat
// dedup and hashing.
const sidPlaceholder = "S-1-5-21-<DOMAIN_ID>-<RELATIVE_ID>"

// behaviorCategoryLimit caps the lines emitted per behavioral category,
// except for the categories where completeness matters more than brevity.
const behaviorCategoryLimit = 25

// behaviorCategory describes one behavior-summary key worth reporting.
type behaviorCategory struct {
	key     string
	title   string
	limited bool
	tagKey  string
}

// Order is fixed so output is deterministic run to run.
var behaviorCategories = []behaviorCategory{
	{key: "directory_created", title: "Directories Created", limited: true},
	{key: "directory_removed", title: "Directories Deleted", limited: true},
	{key: "dll_loaded", title: "Modules Loaded", limited: true},
	{key: "file_deleted", title: "Files Deleted", limited: true},
	{key: "file_exists", title: "Check File: Exists", limited: true},
	{key: "file_failed", title: "Check File: Failed", limited: true},
	{key: "regkey_written", title: "Registry Keys Written", limited: true},
	{key: "command_line", title: "Commands"},
	{key: "downloads_file", title: "Files Downloads"},
	{key: "file_written", title: "Files Written", tagKey: TagFilePath},
	{key: "wmi_query", title: "WMI Queries"},
	{key: "mutex", title: "Mutexes", tagKey: TagMutex},
}

// behaviorState accumulates cross-category observations while the
// behavioral summary is walked.
type behaviorState struct {
	regkeys []string
	// clsids maps resolved name -> upper-case GUID.
	clsids map[string]string
}

func (s *behaviorState) addKey(key string) {
	key = userSIDRE.ReplaceAllString(key, sidPlaceholder)
	s.regkeys = append(s.regkeys, key)
	s.addCLSIDs(key)
}

func (s *behaviorState) addCLSIDs(value string) {
	for _, m := range uuidRE.FindAllStringSubmatch(value, -1) {
		uuid := strings.ToUpper(m[1])
		if name := resolveCLSID(uuid); name != "" {
			if s.clsids == nil {
				s.clsids = make(map[string]string)
			}
			s.clsids[name] = uuid
		}
	}
}

// addCOMArguments scans CoCreateInstance-style call arguments for class
// identifiers. Arguments show up either as a plain clsid field, a list of
// name/value pairs, or bare strings depending on the monitor version.
func (s *behaviorState) addCOMArguments(args interface{}) {
	switch a := args.(type) {
	case map[string]interface{}:
		if clsid := asString(a["clsid"]); clsid != "" {
			s.addCLSIDs(clsid)
			return
		}
		for _, v := range a {
			s.addCOMArguments(v)
		}
	case []interface{}:
		for _, arg := range a {
			switch v := arg.(type) {
			case map[string]interface{}:
				if asString(v["name"]) == "ClsId" {
					s.addCLSIDs(asString(v["value"]))
				}
			case string:
				s.addCLSIDs(v)
			}
		}
	case string:
		s.addCLSIDs(a)
	}
}

// processBehavior turns the behavioral summary into category findings and
// decides whether the sample meaningfully executed. It returns the
// findings, the command lines seen (the caller dumps those to disk), and
// the execution verdict.
func (n *Normalizer) processBehavior(behavior RawReport) (findings []*Finding, commands []string, executed bool) {
	executed = true
	state := &behaviorState{}

	summary := behavior.Map("summary")
	for _, key := range summary.StringSlice("keys") {
		state.addKey(key)
	}
	for _, key := range summary.StringSlice("regkey_opened") {
		state.addKey(key)
	}

	for _, process := range behavior.MapSlice("processes") {
		for _, call := range process.MapSlice("calls") {
			if strings.Contains(call.String("api"), "CoCreateInstance") {
				state.addCOMArguments(map[string]interface{}(call)["arguments"])
			}
		}
	}

	var lastSection *Finding
	for _, cat := range behaviorCategories {
		entries := summary.StringSlice(cat.key)
		if len(entries) == 0 {
			continue
		}
		title := cat.title
		if cat.limited && len(entries) > behaviorCategoryLimit {
			entries = entries[:behaviorCategoryLimit]
			title = title + " (Limit 25)"
		}

		sec := NewFinding(KindBehavior, title)
		for _, line := range entries {
			sec.AddLine(line)
			if cat.tagKey != "" {
				sec.AddTag(cat.tagKey, line)
			}
		}
		if cat.key == "command_line" {
			commands = append(commands, entries...)
		}
		if cat.key == "regkey_written" {
			for i, line := range sec.Lines {
				sec.Lines[i] = userSIDRE.ReplaceAllString(line, sidPlaceholder)
			}
		}
		findings = append(findings, sec)
		lastSection = sec
	}

	for _, guid := range summary.StringSlice("guid") {
		state.addCLSIDs(guid)
	}

	if len(state.clsids) > 0 {
		uuids := make([]string, 0, len(state.clsids))
		for _, uuid := range state.clsids {
			uuids = append(uuids, uuid)
		}
		sort.Strings(uuids)

		clsidSec := NewFinding(KindBehavior, "CLSIDs")
		names := make([]string, 0, len(state.clsids))
		for name := range state.clsids {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			clsidSec.AddLine(name + " : " + state.clsids[name])
		}

		if h, err := similarity.Hash([]byte(strings.Join(uuids, ""))); err == nil {
			clsidSec.AddTag(TagSsdeepClsIDs, h)
		}

		sum := sha1.Sum([]byte(strings.Join(uuids, ",")))
		if n.whitelist.IsBenignCLSIDSet(hex.EncodeToString(sum[:])) {
			// Only common, harmless COM objects were instantiated:
			// the sample did not meaningfully execute.
			executed = false
		}
		findings = append(findings, clsidSec)
	}

	if len(state.regkeys) > 0 && lastSection != nil {
		sorted := append([]string(nil), state.regkeys...)
		sort.Strings(sorted)
		if h, err := similarity.Hash([]byte(strings.Join(sorted, ""))); err == nil {
			lastSection.AddTag(TagSsdeepRegkeys, h)
		}
	}

	return findings, commands, executed
}
