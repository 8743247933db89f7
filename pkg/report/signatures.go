package report

import (
	"strings"
)

// processSignatures converts matched behavioral signatures into one parent
// finding with a sub-finding per signature. Low-value signature names are
// skipped outright; unknown names are logged but still emitted with the
// default heuristic.
func (n *Normalizer) processSignatures(sigs []RawReport) *Finding {
	if len(sigs) == 0 {
		return nil
	}

	parent := NewFinding(KindSignature, "Signatures")
	emitted := 0

	for _, sig := range sigs {
		name := sig.String("name")
		if name == "" || skippedSignatures[name] {
			continue
		}

		heuristic, known := signatureHeuristic(name)
		if !known {
			n.log.Warn("unknown signature detected: %s", name)
		}

		sub := NewFinding(KindSignature, "Signature: "+name)
		if desc := sig.String("description"); desc != "" {
			sub.AddLine(desc)
		}
		sub.Heuristic = heuristic
		parent.AddSub(sub)
		emitted++

		categories := sig.StringSlice("categories")
		if len(categories) > 0 {
			parent.AddLine("\tCategories: " + strings.Join(categories, ","))
			for _, category := range categories {
				parent.AddTag(TagSignatureCategory, category)
			}
		}

		families := sig.StringSlice("families")
		if len(families) > 0 {
			parent.AddLine("\tFamilies: " + strings.Join(families, ","))
			for _, family := range families {
				parent.AddTag(TagSignatureCategory, family)
			}
		}

		if actor := sig.String("actor"); actor != "" {
			parent.AddTag(TagActor, actor)
		}

		if iocSignatures[name] {
			for _, mark := range sig.MapSlice("marks") {
				switch mark.String("type") {
				case "ioc":
					switch mark.String("category") {
					case "url", "file", "cmdline", "request":
						if ioc := mark.String("ioc"); ioc != "" {
							parent.AddLine("\tIOC: " + ioc)
						}
					}
				case "generic":
					key := mark.String("reg_key")
					value := mark.String("reg_value")
					if key != "" && value != "" {
						parent.AddLine("\tIOC: " + key + " = " + value)
					}
				}
			}
		}
	}

	if emitted == 0 {
		return nil
	}
	return parent
}
