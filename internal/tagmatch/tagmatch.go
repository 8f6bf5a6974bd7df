// Package tagmatch maps raw OSM key/value tags to abstract kinds.
//
// A kind (e.g. "maxspeed", "crossing", "stop") is defined by one or more
// rules loaded from a plain-text rule file. The matcher also exposes the
// set of relevant keys, which the store uses to strip tags it will never
// need before persisting an object.
package tagmatch

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Rule is a single parsed rule line.
//
// A rule binds a tag predicate (key, or key=value) on one variant of OSM
// object to a kind. An optional context predicate must additionally hold
// over the surrounding tag map.
type Rule struct {
	Variant  byte // 'n', 'w', 'r', or 0 for any
	Kind     string
	Key      string
	Value    string
	HasValue bool

	CtxKey      string
	CtxValue    string
	HasCtx      bool
	HasCtxValue bool
}

// Matcher holds the parsed rule set.
type Matcher struct {
	rules        []Rule
	relevantKeys map[string]bool
}

// Load reads a rule file. Each non-empty, non-comment line has the form
//
//	<variant> <kind>[+ctx_key[=ctx_val]] <key>[=value][+ctx_key[=ctx_val]]
//
// where variant is node|way|relation|any (matched by first letter). A
// two-field line uses the tag key itself as the kind. A context suffix may
// appear on the kind or on the tag; specifying different contexts on both
// is rejected as ambiguous.
func Load(r io.Reader) (*Matcher, error) {
	m := &Matcher{relevantKeys: make(map[string]bool)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(strings.ToLower(line))
		if err != nil {
			return nil, fmt.Errorf("rule line %d: %w", lineNo, err)
		}
		m.rules = append(m.rules, rule)
		m.relevantKeys[rule.Key] = true
		if rule.HasCtx {
			m.relevantKeys[rule.CtxKey] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseLine(line string) (Rule, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Rule{}, fmt.Errorf("expected at least two fields, got %q", line)
	}

	var rule Rule
	switch fields[0][0] {
	case 'n', 'w', 'r':
		rule.Variant = fields[0][0]
	case 'a':
		rule.Variant = 0
	default:
		return Rule{}, fmt.Errorf("unknown variant %q", fields[0])
	}

	tagSpec := fields[len(fields)-1]
	kindSpec := tagSpec
	if len(fields) > 2 {
		kindSpec = fields[1]
	}

	kind, kindCtx, err := splitContext(kindSpec)
	if err != nil {
		return Rule{}, err
	}
	tag, tagCtx, err := splitContext(tagSpec)
	if err != nil {
		return Rule{}, err
	}
	if kindCtx != nil && tagCtx != nil && *kindCtx != *tagCtx {
		return Rule{}, fmt.Errorf("conflicting contexts on kind and tag in %q", line)
	}

	ctx := tagCtx
	if ctx == nil {
		ctx = kindCtx
	}
	if ctx != nil {
		rule.HasCtx = true
		rule.CtxKey = ctx.key
		rule.CtxValue = ctx.value
		rule.HasCtxValue = ctx.hasValue
	}

	if k, v, ok := strings.Cut(tag, "="); ok {
		rule.Key = k
		rule.Value = v
		rule.HasValue = true
	} else {
		rule.Key = tag
	}
	if rule.Key == "" {
		return Rule{}, fmt.Errorf("empty tag key in %q", line)
	}

	// A two-field line names the kind after the tag key alone.
	if len(fields) > 2 {
		rule.Kind = kind
	} else {
		rule.Kind = rule.Key
	}
	if rule.Kind == "" {
		return Rule{}, fmt.Errorf("empty kind in %q", line)
	}
	return rule, nil
}

type ctxPred struct {
	key      string
	value    string
	hasValue bool
}

func splitContext(spec string) (string, *ctxPred, error) {
	base, ctx, ok := strings.Cut(spec, "+")
	if !ok {
		return base, nil, nil
	}
	if ctx == "" {
		return "", nil, fmt.Errorf("empty context in %q", spec)
	}
	pred := &ctxPred{}
	if k, v, ok := strings.Cut(ctx, "="); ok {
		pred.key = k
		pred.value = v
		pred.hasValue = true
	} else {
		pred.key = ctx
	}
	if pred.key == "" {
		return "", nil, fmt.Errorf("empty context key in %q", spec)
	}
	return base, pred, nil
}

// Empty reports whether no rules are loaded. An empty matcher admits
// everything and defines no relevant keys.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.rules) == 0
}

// RelevantKeys returns the union of keys named by any rule.
func (m *Matcher) RelevantKeys() map[string]bool {
	if m == nil {
		return nil
	}
	return m.relevantKeys
}

// FilterRelevant returns the subset of tags whose keys some rule cares
// about. With an empty matcher the input map is returned unchanged.
func (m *Matcher) FilterRelevant(tags map[string]string) map[string]string {
	if m.Empty() {
		return tags
	}
	out := make(map[string]string)
	for k, v := range tags {
		if m.relevantKeys[k] {
			out[k] = v
		}
	}
	return out
}

func (r *Rule) matchesVariant(variant string) bool {
	if r.Variant == 0 {
		return true
	}
	return variant != "" && variant[0] == r.Variant
}

func (r *Rule) matchesTags(tags map[string]string) bool {
	v, ok := tags[r.Key]
	if !ok {
		return false
	}
	return !r.HasValue || v == r.Value
}

func (r *Rule) ctxHolds(tags map[string]string) bool {
	v, ok := tags[r.CtxKey]
	if !ok {
		return false
	}
	return !r.HasCtxValue || v == r.CtxValue
}

// ctxSatisfied evaluates the context predicate over two tag maps. Under
// strong evaluation the context must hold in both maps; under weak in at
// least one.
func (r *Rule) ctxSatisfied(tags, aux map[string]string, strong bool) bool {
	if !r.HasCtx {
		return true
	}
	if aux == nil {
		return r.ctxHolds(tags)
	}
	if strong {
		return r.ctxHolds(tags) && r.ctxHolds(aux)
	}
	return r.ctxHolds(tags) || r.ctxHolds(aux)
}

// KindsOf returns the set of kinds matching the tags of an object.
func (m *Matcher) KindsOf(variant string, tags map[string]string) map[string]bool {
	return m.KindsOfWithContext(variant, tags, nil, false)
}

// KindsOfWithContext is KindsOf with the context predicate evaluated over
// the tag map and an auxiliary tag map (typically the other version of the
// same object). See Rule.ctxSatisfied for strong vs weak evaluation.
func (m *Matcher) KindsOfWithContext(variant string, tags, aux map[string]string, strong bool) map[string]bool {
	result := make(map[string]bool)
	if m.Empty() {
		return result
	}
	for i := range m.rules {
		r := &m.rules[i]
		if !r.matchesVariant(variant) {
			continue
		}
		if r.matchesTags(tags) && r.ctxSatisfied(tags, aux, strong) {
			result[r.Kind] = true
		}
	}
	return result
}

// ModifiedKinds returns the kinds whose defining tags changed value between
// two versions while remaining present in both, or whose matching set of
// key=value option rules changed.
func (m *Matcher) ModifiedKinds(variant string, oldTags, newTags map[string]string, strong bool) map[string]bool {
	result := make(map[string]bool)
	if m.Empty() {
		return result
	}

	// Option rules are compared as sets per kind: the kind is modified
	// when both versions match at least one option and the options differ.
	oldOptions := make(map[string]map[int]bool)
	newOptions := make(map[string]map[int]bool)

	for i := range m.rules {
		r := &m.rules[i]
		if !r.matchesVariant(variant) {
			continue
		}
		if !r.ctxSatisfied(oldTags, newTags, strong) {
			continue
		}
		if !r.HasValue {
			oldV, inOld := oldTags[r.Key]
			newV, inNew := newTags[r.Key]
			if inOld && inNew && oldV != newV {
				result[r.Kind] = true
			}
			continue
		}
		if r.matchesTags(oldTags) {
			addOption(oldOptions, r.Kind, i)
		}
		if r.matchesTags(newTags) {
			addOption(newOptions, r.Kind, i)
		}
	}

	for kind, old := range oldOptions {
		neu := newOptions[kind]
		if len(neu) == 0 {
			continue
		}
		if !sameOptions(old, neu) {
			result[kind] = true
		}
	}
	return result
}

func addOption(options map[string]map[int]bool, kind string, rule int) {
	if options[kind] == nil {
		options[kind] = make(map[int]bool)
	}
	options[kind][rule] = true
}

func sameOptions(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
