package voice

import (
	"sort"
	"strings"
	"time"

	"voicecrm_backend/platform/phone"
	"voicecrm_backend/platform/sanitize"
)

// IntentUnknown is used when the provider did not classify the call.
const IntentUnknown = "unknown"

// maxPhoneDigits bounds the client-reference heuristic: a purely numeric
// reference no longer than an E.164 number is treated as a phone.
const maxPhoneDigits = 15

// TranscriptEntry is one utterance of the call.
type TranscriptEntry struct {
	Role           string  `json:"role"`
	Text           string  `json:"text"`
	TimeInCallSecs float64 `json:"timeInCallSecs"`
}

// CallDetails is the normalized view of a provider conversation.
type CallDetails struct {
	ConversationID    string
	Phone             string
	CustomerName      string
	Summary           string
	Intent            string
	ClientReference   string
	PreferredDateTime string
	Project           string
	Issue             string
	Priority          string
	RecordingURL      string
	Transcript        []TranscriptEntry
	StartedAt         *time.Time
	DurationSecs      *int
}

// Extractor pulls CallDetails out of a provider conversation payload.
type Extractor struct {
	phones *phone.Normalizer
}

// NewExtractor creates an extractor normalizing phones with n.
func NewExtractor(n *phone.Normalizer) *Extractor {
	if n == nil {
		n = phone.NewNormalizer(phone.DefaultRegion)
	}
	return &Extractor{phones: n}
}

// Extract never fails; absent or malformed fields become zero values.
func (e *Extractor) Extract(conversationID string, detail Fields) CallDetails {
	analysis := detail.Object("analysis")
	results := analysis.Object("data_collection_results")
	metadata := detail.Object("metadata")
	dynamic := detail.Path("conversation_initiation_client_data", "dynamic_variables")

	rawPhone := results.First("phone", "phone_number")
	if rawPhone == "" {
		rawPhone = metadata.Object("phone_call").Get("external_number")
	}
	if rawPhone == "" {
		rawPhone = dynamic.Get("system__caller_id")
	}

	reference := detail.Get("user_id")
	if reference == "" {
		reference = metadata.Get("user_id")
	}
	if reference == "" {
		reference = dynamic.First("session_id", "user_id")
	}
	if looksLikePhone(reference) {
		if rawPhone == "" {
			rawPhone = reference
		}
		reference = ""
	}

	summary := analysis.Get("transcript_summary")
	if summary == "" {
		summary = analysis.Get("call_summary_title")
	}

	name := results.First("customer_name", "name")
	if name == "" {
		name = dynamic.Get("customer_name")
	}

	details := CallDetails{
		ConversationID:    conversationID,
		Phone:             e.phones.Normalize(rawPhone),
		CustomerName:      sanitize.Line(name),
		Summary:           sanitize.Text(summary),
		Intent:            normalizeIntent(results.First("extracted_intent", "intent")),
		ClientReference:   reference,
		PreferredDateTime: results.First("preferred_datetime", "preferred_date"),
		Project:           sanitize.Line(results.Get("project")),
		Issue:             sanitize.Text(results.First("issue", "issue_description")),
		Priority:          results.Get("priority"),
		RecordingURL:      firstNonEmpty(detail.First("recording_url", "audio_url"), metadata.Get("recording_url")),
		Transcript:        extractTranscript(detail),
	}

	if start, ok := metadata.Number("start_time_unix_secs"); ok && start > 0 {
		startedAt := time.Unix(int64(start), 0).UTC()
		details.StartedAt = &startedAt
	}
	if secs, ok := metadata.Number("call_duration_secs"); ok && secs >= 0 {
		d := int(secs)
		details.DurationSecs = &d
	}

	return details
}

func normalizeIntent(raw string) string {
	intent := strings.ToLower(strings.TrimSpace(raw))
	if intent == "" {
		return IntentUnknown
	}
	return intent
}

func looksLikePhone(reference string) bool {
	if !phone.IsNumeric(reference) {
		return false
	}
	return len(strings.TrimPrefix(reference, "+")) <= maxPhoneDigits
}

func extractTranscript(detail Fields) []TranscriptEntry {
	var raw []any
	for _, key := range []string{"transcript", "conversation", "messages"} {
		if list := detail.List(key); len(list) > 0 {
			raw = list
			break
		}
	}
	if len(raw) == 0 {
		return nil
	}

	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		obj := asFields(item)
		if obj == nil {
			continue
		}
		text := obj.First("message", "text", "content")
		if text == "" {
			continue
		}
		secs, _ := obj.Number("time_in_call_secs")
		entries = append(entries, TranscriptEntry{
			Role:           obj.Get("role"),
			Text:           text,
			TimeInCallSecs: secs,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimeInCallSecs < entries[j].TimeInCallSecs
	})
	return entries
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
