// Package report converts raw sandbox analysis reports into normalized,
// tagged findings. Everything in this package is pure transformation:
// no I/O, no clock, no network.
package report

// FindingKind classifies a normalized output record.
type FindingKind string

const (
	KindInfo      FindingKind = "info"
	KindBehavior  FindingKind = "behavior"
	KindNetwork   FindingKind = "network"
	KindSignature FindingKind = "signature"
	KindError     FindingKind = "error"
)

// Tag namespace. The set of keys is closed: new tags mean a new constant
// here, not an ad-hoc string at the call site.
const (
	TagNetworkIP         = "network.ip"
	TagNetworkDomain     = "network.domain"
	TagNetworkURI        = "network.uri"
	TagFilePath          = "file.path"
	TagFileBehavior      = "file.behavior"
	TagMutex             = "dynamic.mutex"
	TagSsdeepClsIDs      = "dynamic.ssdeep.cls_ids"
	TagSsdeepRegkeys     = "dynamic.ssdeep.regkeys"
	TagSsdeepClasses     = "dynamic.ssdeep.dynamic_classes"
	TagSignatureCategory = "dynamic.signature.category"
	TagActor             = "attribution.actor"
	TagPhoneNumber       = "info.phone_number"
	TagCryptoType        = "technique.crypto"
)

// Tag is one namespaced key/value annotation on a Finding.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KV is one ordered key/value body row.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Finding is the normalized output unit: a titled block of lines or
// key/value rows, optionally tagged, optionally carrying sub-findings
// (signature detail, per-group network flows).
type Finding struct {
	Kind  FindingKind `json:"kind"`
	Title string      `json:"title"`

	// Lines is the plain-text body. KVs is the structured alternative;
	// a Finding uses one or the other.
	Lines []string `json:"lines,omitempty"`
	KVs   []KV     `json:"kvs,omitempty"`

	// Heuristic identifies the triggered heuristic, 0 when none.
	Heuristic int `json:"heuristic,omitempty"`

	Tags []Tag      `json:"tags,omitempty"`
	Sub  []*Finding `json:"sub,omitempty"`
}

// NewFinding creates an empty Finding of the given kind.
func NewFinding(kind FindingKind, title string) *Finding {
	return &Finding{Kind: kind, Title: title}
}

// AddLine appends a body line.
func (f *Finding) AddLine(line string) {
	f.Lines = append(f.Lines, line)
}

// AddKV appends a key/value body row.
func (f *Finding) AddKV(key, value string) {
	f.KVs = append(f.KVs, KV{Key: key, Value: value})
}

// AddTag appends a tag, suppressing exact duplicates.
func (f *Finding) AddTag(key, value string) {
	for _, t := range f.Tags {
		if t.Key == key && t.Value == value {
			return
		}
	}
	f.Tags = append(f.Tags, Tag{Key: key, Value: value})
}

// AddSub appends a sub-finding.
func (f *Finding) AddSub(sub *Finding) {
	f.Sub = append(f.Sub, sub)
}

// HasTag reports whether the finding carries a tag with the given key.
func (f *Finding) HasTag(key string) bool {
	for _, t := range f.Tags {
		if t.Key == key {
			return true
		}
	}
	return false
}

// FindByTitle returns the first finding with the given title in a flat
// list, or nil.
func FindByTitle(findings []*Finding, title string) *Finding {
	for _, f := range findings {
		if f.Title == title {
			return f
		}
	}
	return nil
}
