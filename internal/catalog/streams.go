package catalog

import "strings"

// Bookmark keys. Mutable ad objects are watermarked by their platform
// modification time; report streams by the report row's start date.
const (
	UpdatedTimeKey = "updated_time"
	StartDateKey   = "date_start"
)

// StreamNames is the closed set of syncable entity types, in sync order.
var StreamNames = []string{
	"adaccounts",
	"adcreative",
	"ads",
	"adsets",
	"campaigns",
	"accounts_insights",
	"ads_insights",
	"ads_insights_age_gender",
	"ads_insights_device_platform",
	"ads_insights_placement",
}

var bookmarkKeys = map[string]string{
	"ads":                          UpdatedTimeKey,
	"adsets":                       UpdatedTimeKey,
	"campaigns":                    UpdatedTimeKey,
	"accounts_insights":            StartDateKey,
	"ads_insights":                 StartDateKey,
	"ads_insights_age_gender":      StartDateKey,
	"ads_insights_device_platform": StartDateKey,
	"ads_insights_placement":       StartDateKey,
}

// BookmarkKey returns the bookmark key for a stream, or "" when the
// stream is not incrementally watermarked.
func BookmarkKey(stream string) string {
	return bookmarkKeys[stream]
}

// IsInsights reports whether the stream is an async report stream.
func IsInsights(stream string) bool {
	return strings.HasPrefix(stream, "ads_insights") || stream == "accounts_insights"
}

// defaultProperties seed discovery output. Real deployments overlay full
// provider schemas; these cover the key, bookmark and metric fields the
// engine itself depends on.
var defaultProperties = map[string][]string{
	"adaccounts": {"id", "account_id", "name", "account_status", "currency", "timezone_name", "user_id"},
	"adcreative": {"id", "name", "status", "body", "title", "object_story_id", "thumbnail_url"},
	"ads":        {"id", "account_id", "adset_id", "campaign_id", "name", "status", "effective_status", "creative", "created_time", "updated_time"},
	"adsets":     {"id", "account_id", "campaign_id", "name", "status", "effective_status", "daily_budget", "created_time", "updated_time"},
	"campaigns":  {"id", "account_id", "name", "objective", "status", "effective_status", "created_time", "updated_time"},
}

var insightsProperties = []string{
	"account_id", "campaign_id", "adset_id", "ad_id",
	"date_start", "date_stop", "impressions", "spend",
	"clicks", "reach", "frequency", "actions",
}

var dateTimeProperties = map[string]struct{}{
	"created_time": {},
	"updated_time": {},
}

// insightsKeyProperties are the natural keys per report level; breakdown
// primary keys are appended per stream.
var insightsKeyProperties = map[string][]string{
	"ad":      {"campaign_id", "adset_id", "ad_id", "date_start"},
	"account": {"account_id", "date_start", "date_stop"},
}

var insightsBreakdownKeys = map[string][]string{
	"ads_insights_age_gender":      {"age", "gender"},
	"ads_insights_device_platform": {"device_platform"},
	"ads_insights_placement":       {"publisher_platform", "platform_position", "impression_device"},
}

// KeyProperties returns the natural primary key fields for a stream.
func KeyProperties(stream string) []string {
	if !IsInsights(stream) {
		return []string{"id"}
	}
	level := "ad"
	if stream == "accounts_insights" {
		level = "account"
	}
	keys := append([]string{}, insightsKeyProperties[level]...)
	keys = append(keys, insightsBreakdownKeys[stream]...)
	return keys
}

// Discover builds the default catalog: every known stream with its
// schema stub, key properties and bookmark metadata. Nothing is selected;
// consumers mark selection before running a sync.
func Discover() *Catalog {
	c := &Catalog{}
	for _, name := range StreamNames {
		c.Streams = append(c.Streams, discoverEntry(name))
	}
	return c
}

func discoverEntry(name string) *Entry {
	props := defaultProperties[name]
	if IsInsights(name) {
		props = append(append([]string{}, insightsProperties...), insightsBreakdownKeys[name]...)
	}

	bookmarkKey := BookmarkKey(name)
	keyProps := KeyProperties(name)

	automatic := map[string]struct{}{}
	for _, k := range keyProps {
		automatic[k] = struct{}{}
	}
	if bookmarkKey != "" {
		automatic[bookmarkKey] = struct{}{}
	}

	properties := map[string]any{}
	metadata := []Metadata{{
		Breadcrumb: []string{},
		Metadata:   map[string]any{"selected": false, "table-key-properties": keyProps},
	}}

	for _, p := range props {
		prop := map[string]any{"type": []string{"null", "string"}}
		if _, ok := dateTimeProperties[p]; ok || p == bookmarkKey {
			prop["format"] = "date-time"
		}
		properties[p] = prop

		inclusion := "available"
		if _, ok := automatic[p]; ok {
			inclusion = "automatic"
		}
		metadata = append(metadata, Metadata{
			Breadcrumb: []string{"properties", p},
			Metadata:   map[string]any{"inclusion": inclusion},
		})
	}

	return &Entry{
		Stream:      name,
		TapStreamID: name,
		Schema: map[string]any{
			"type":       "object",
			"properties": properties,
		},
		Metadata:      metadata,
		KeyProperties: keyProps,
	}
}
