package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"

	"loupe/internal/store"
)

// exportVersion identifies the rules-export document format.
const exportVersion = "1.0"

// seededRuleNames are the built-in sentinel rules a replace-mode import must
// never remove.
var seededRuleNames = []string{"Screen locked", "User idle"}

// RulesExport is the portable rules document. Rules reference tags by name
// so the document survives id changes across databases.
type RulesExport struct {
	ExportDate string       `json:"export_date" yaml:"export_date"`
	Version    string       `json:"version" yaml:"version"`
	Tags       []ExportTag  `json:"tags" yaml:"tags"`
	Rules      []ExportRule `json:"rules" yaml:"rules"`
}

// ExportTag carries the tag identity an imported rule may need created.
type ExportTag struct {
	Name     string `json:"name" yaml:"name"`
	Color    string `json:"color" yaml:"color"`
	Category string `json:"category" yaml:"category"`
}

// ExportRule is one rule keyed by tag name instead of tag id.
type ExportRule struct {
	Name               string `json:"name" yaml:"name"`
	Priority           int    `json:"priority" yaml:"priority"`
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	TagName            string `json:"tag_name" yaml:"tag_name"`
	ProcessPattern     string `json:"process_pattern,omitempty" yaml:"process_pattern,omitempty"`
	URLPattern         string `json:"url_pattern,omitempty" yaml:"url_pattern,omitempty"`
	TitlePattern       string `json:"title_pattern,omitempty" yaml:"title_pattern,omitempty"`
	BrowserProfile     string `json:"browser_profile,omitempty" yaml:"browser_profile,omitempty"`
	ProcessPathPattern string `json:"process_path_pattern,omitempty" yaml:"process_path_pattern,omitempty"`
}

// ImportResult reports what an import changed.
type ImportResult struct {
	TagsCreated  int `json:"tags_created"`
	RulesCreated int `json:"rules_created"`
	RulesSkipped int `json:"rules_skipped"`
	RulesRemoved int `json:"rules_removed"`
}

// ExportRules builds the export document from the current store.
func (m *Manager) ExportRules(ctx context.Context) (*RulesExport, error) {
	rules, err := m.store.ListRules(ctx, false)
	if err != nil {
		return nil, err
	}
	tags, err := m.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	tagName := make(map[int64]string, len(tags))
	doc := &RulesExport{
		ExportDate: time.Now().Format(time.RFC3339),
		Version:    exportVersion,
	}
	for _, t := range tags {
		tagName[t.ID] = t.Name
		doc.Tags = append(doc.Tags, ExportTag{Name: t.Name, Color: t.Color, Category: t.Category})
	}
	for _, r := range rules {
		doc.Rules = append(doc.Rules, ExportRule{
			Name:               r.Name,
			Priority:           r.Priority,
			Enabled:            r.Enabled,
			TagName:            tagName[r.TagID],
			ProcessPattern:     r.ProcessPattern,
			URLPattern:         r.URLPattern,
			TitlePattern:       r.TitlePattern,
			BrowserProfile:     r.BrowserProfile,
			ProcessPathPattern: r.ProcessPathPattern,
		})
	}
	return doc, nil
}

// ParseRulesJSON decodes an export document, running a repair pass over
// almost-JSON (trailing commas, unquoted keys) before rejecting the upload.
func ParseRulesJSON(data []byte) (*RulesExport, error) {
	var doc RulesExport
	if err := json.Unmarshal(data, &doc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return nil, fmt.Errorf("rules document is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return nil, fmt.Errorf("rules document is not valid JSON: %w", err)
		}
	}
	return validateDoc(&doc)
}

// ParseRulesYAML decodes the YAML variant the CLI writes.
func ParseRulesYAML(data []byte) (*RulesExport, error) {
	var doc RulesExport
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules document is not valid YAML: %w", err)
	}
	return validateDoc(&doc)
}

func validateDoc(doc *RulesExport) (*RulesExport, error) {
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules document contains no rules")
	}
	for i, r := range doc.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if r.TagName == "" {
			return nil, fmt.Errorf("rule %q has no tag name", r.Name)
		}
	}
	return doc, nil
}

// ImportRules applies an export document. Tags are matched by name and
// created when absent. With merge=true existing rules are kept and incoming
// rules that collide by name are skipped; with merge=false every non-seeded
// rule is removed first. The rule engine must be reloaded afterwards.
func (m *Manager) ImportRules(ctx context.Context, doc *RulesExport, merge bool) (ImportResult, error) {
	var result ImportResult

	tagColor := make(map[string]ExportTag, len(doc.Tags))
	for _, t := range doc.Tags {
		tagColor[t.Name] = t
	}

	if !merge {
		keep := seededRuleNames
		removed, err := m.store.DeleteRulesExcept(ctx, keep)
		if err != nil {
			return result, err
		}
		result.RulesRemoved = removed
	}

	existing, err := m.store.ListRules(ctx, false)
	if err != nil {
		return result, err
	}
	existingNames := make(map[string]bool, len(existing))
	for _, r := range existing {
		existingNames[r.Name] = true
	}

	tagIDs := make(map[string]int64)
	for _, r := range doc.Rules {
		if existingNames[r.Name] {
			result.RulesSkipped++
			continue
		}

		tagID, ok := tagIDs[r.TagName]
		if !ok {
			tag, err := m.store.GetTagByName(ctx, r.TagName)
			if err != nil {
				meta := tagColor[r.TagName]
				if meta.Color == "" {
					meta.Color = "#808080"
				}
				if meta.Category == "" {
					meta.Category = "other"
				}
				tag, err = m.store.EnsureTag(ctx, r.TagName, meta.Color, meta.Category)
				if err != nil {
					return result, fmt.Errorf("creating tag %q for rule %q: %w", r.TagName, r.Name, err)
				}
				result.TagsCreated++
			}
			tagID = tag.ID
			tagIDs[r.TagName] = tagID
		}

		if _, err := m.store.CreateRule(ctx, store.Rule{
			Name:               r.Name,
			Priority:           r.Priority,
			Enabled:            r.Enabled,
			TagID:              tagID,
			ProcessPattern:     r.ProcessPattern,
			URLPattern:         r.URLPattern,
			TitlePattern:       r.TitlePattern,
			BrowserProfile:     r.BrowserProfile,
			ProcessPathPattern: r.ProcessPathPattern,
		}); err != nil {
			return result, fmt.Errorf("importing rule %q: %w", r.Name, err)
		}
		existingNames[r.Name] = true
		result.RulesCreated++
	}
	m.logger.Info("rules import: %d created, %d skipped, %d removed, %d tags created",
		result.RulesCreated, result.RulesSkipped, result.RulesRemoved, result.TagsCreated)
	return result, nil
}

// MarshalYAMLBytes renders the document for the CLI's --yaml flag.
func (doc *RulesExport) MarshalYAMLBytes() ([]byte, error) {
	return yaml.Marshal(doc)
}

// MarshalJSONBytes renders the document with stable indentation.
func (doc *RulesExport) MarshalJSONBytes() ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
