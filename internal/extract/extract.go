// Package extract turns raw customer request text into a typed intent, a
// confidence score, and any structured fields it can find. Deterministic
// pattern matching runs first; a schema-constrained classifier call is the
// fallback when patterns are inconclusive.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/llm"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/metrics"
)

const (
	// DefaultConfidenceThreshold is the floor below which a classification
	// is insufficient to auto-act.
	DefaultConfidenceThreshold = 70

	// patternConfidence is assigned when a deterministic matcher decides
	// the intent.
	patternConfidence = 95

	SourcePattern    = "pattern"
	SourceClassifier = "classifier"
)

var (
	// Explicit "field: value" markers take priority over prose matching.
	fieldMarkerRe = regexp.MustCompile(`(?im)^(order_reference|reason|evidence|promo_code|subscription_id)\s*[:=]\s*(\S.*)$`)

	orderRefRe     = regexp.MustCompile(`(?i)\border(?:\s+number)?\s*[#:]?\s*([A-Za-z0-9][A-Za-z0-9-]{3,})`)
	bareRefRe      = regexp.MustCompile(`#([A-Za-z0-9][A-Za-z0-9-]{3,})`)
	promoCodeRe    = regexp.MustCompile(`(?i)\b(?:promo|discount|coupon)\s*code\s*[#:]?\s*["']?([A-Za-z0-9][A-Za-z0-9-]{2,})`)
	subscriptionRe = regexp.MustCompile(`(?i)\bsubscription\s*(?:id)?\s*[#:]?\s*([A-Za-z0-9][A-Za-z0-9_-]{3,})`)
	reasonRe       = regexp.MustCompile(`(?i)\bbecause\s+([^.!\n]{4,160})`)
)

// intentMatcher decides intent from prose. Matchers run in priority order;
// subscription intents go first so "cancel my subscription" never reads as a
// return.
type intentMatcher struct {
	name    string
	intent  model.IntentType
	pattern *regexp.Regexp
}

var intentMatchers = []intentMatcher{
	{"subscription_pause", model.IntentSubscriptionPause,
		regexp.MustCompile(`(?i)\b(pause|hold|suspend)\b.{0,40}\bsubscription\b|\bsubscription\b.{0,40}\b(pause|hold|suspend)\b`)},
	{"subscription_resume", model.IntentSubscriptionResume,
		regexp.MustCompile(`(?i)\b(resume|restart|reactivate|unpause)\b.{0,40}\bsubscription\b|\bsubscription\b.{0,40}\b(resume|restart|reactivate|unpause)\b`)},
	{"subscription_cancel", model.IntentSubscriptionCancel,
		regexp.MustCompile(`(?i)\b(cancel|stop|end)\b.{0,40}\bsubscription\b|\bsubscription\b.{0,40}\b(cancel|stop|end)\b`)},
	{"promo_refund", model.IntentPromoRefund,
		regexp.MustCompile(`(?i)\b(promo|coupon|discount)\b.{0,60}\b(refund|didn'?t (work|apply)|not applied|forgot)\b|\b(forgot|missed)\b.{0,40}\b(promo|coupon|discount)\b`)},
	{"return", model.IntentReturn,
		regexp.MustCompile(`(?i)\breturn(ing)?\b|\bsend (it |them )?back\b|\brefund\b|\bexchange\b`)},
}

// Extractor classifies inbound text.
type Extractor struct {
	client    llm.Client
	threshold int
	timeout   time.Duration
	logger    *logger.Logger
}

// New creates an extractor. client may be nil, in which case only the
// deterministic path runs.
func New(client llm.Client, threshold int, timeout time.Duration, log *logger.Logger) *Extractor {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{client: client, threshold: threshold, timeout: timeout, logger: log}
}

// Threshold returns the confidence floor for auto-acting.
func (e *Extractor) Threshold() int {
	return e.threshold
}

// Extract runs the matcher cascade and, when inconclusive, the classifier.
// A classifier transport failure is returned as a retryable collaborator
// error; the deterministic path never fails.
func (e *Extractor) Extract(ctx context.Context, text string) (*model.Extraction, error) {
	result := matchDeterministic(text)
	if result.Intent != model.IntentUnknown {
		metrics.ExtractionsTotal.WithLabelValues(SourcePattern, string(result.Intent)).Inc()
		return result, nil
	}

	if e.client == nil {
		metrics.ExtractionsTotal.WithLabelValues(SourcePattern, string(model.IntentUnknown)).Inc()
		return result, nil
	}

	classified, err := e.classify(ctx, text)
	if err != nil {
		return nil, err
	}

	// Deterministic field hits survive the fallback; the classifier only
	// fills what the patterns missed.
	for name, value := range result.Fields {
		if _, ok := classified.Fields[name]; !ok {
			classified.Fields[name] = value
		}
	}
	metrics.ExtractionsTotal.WithLabelValues(SourceClassifier, string(classified.Intent)).Inc()
	return classified, nil
}

func matchDeterministic(text string) *model.Extraction {
	fields := make(map[string]string)

	for _, m := range fieldMarkerRe.FindAllStringSubmatch(text, -1) {
		fields[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	if _, ok := fields[model.FieldOrderReference]; !ok {
		if m := orderRefRe.FindStringSubmatch(text); m != nil {
			fields[model.FieldOrderReference] = strings.ToUpper(m[1])
		} else if m := bareRefRe.FindStringSubmatch(text); m != nil {
			fields[model.FieldOrderReference] = strings.ToUpper(m[1])
		}
	}
	if _, ok := fields[model.FieldPromoCode]; !ok {
		if m := promoCodeRe.FindStringSubmatch(text); m != nil {
			fields[model.FieldPromoCode] = strings.ToUpper(m[1])
		}
	}
	if _, ok := fields[model.FieldSubscriptionID]; !ok {
		if m := subscriptionRe.FindStringSubmatch(text); m != nil {
			fields[model.FieldSubscriptionID] = m[1]
		}
	}
	if _, ok := fields[model.FieldReason]; !ok {
		if m := reasonRe.FindStringSubmatch(text); m != nil {
			fields[model.FieldReason] = strings.TrimSpace(m[1])
		}
	}

	for _, m := range intentMatchers {
		if m.pattern.MatchString(text) {
			return &model.Extraction{
				Intent:     m.intent,
				Confidence: patternConfidence,
				Fields:     fields,
				Source:     SourcePattern,
			}
		}
	}

	return &model.Extraction{
		Intent: model.IntentUnknown,
		Fields: fields,
		Source: SourcePattern,
	}
}

// classifierOutput is the schema the LLM must fill. Free text outside this
// shape is rejected, never trusted as structured data.
type classifierOutput struct {
	Intent     string            `json:"intent"`
	Confidence int               `json:"confidence"`
	Fields     map[string]string `json:"fields"`
}

func (e *Extractor) classify(ctx context.Context, text string) (*model.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "user", Content: classifierPrompt(text)},
		},
		MaxTokens:   256,
		Temperature: 0,
	})
	metrics.ClassifierDuration.WithLabelValues(e.client.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("classifier call failed", zap.Error(err))
		return nil, &collab.Unavailable{Collaborator: "classifier", Err: err}
	}

	out, err := parseClassifierOutput(resp.Content)
	if err != nil {
		e.logger.Warn("classifier returned unparseable output",
			zap.String("provider", e.client.Name()),
			zap.Error(err),
		)
		// Unparseable output is an ambiguous classification, not an
		// infrastructure failure.
		return &model.Extraction{
			Intent:     model.IntentUnknown,
			Confidence: 0,
			Fields:     map[string]string{},
			Source:     SourceClassifier,
		}, nil
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	fields := out.Fields
	if fields == nil {
		fields = map[string]string{}
	}

	return &model.Extraction{
		Intent:     model.ParseIntent(out.Intent),
		Confidence: confidence,
		Fields:     fields,
		Source:     SourceClassifier,
	}, nil
}

func classifierPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Classify this customer-service request into exactly one of these intents:\n")
	for _, it := range model.Intents() {
		b.WriteString("- ")
		b.WriteString(string(it))
		b.WriteString("\n")
	}
	b.WriteString("- unknown\n\n")
	b.WriteString("Respond with only a JSON object of the form ")
	b.WriteString(`{"intent": "...", "confidence": 0-100, "fields": {"order_reference": "...", "reason": "...", "promo_code": "...", "subscription_id": "..."}}`)
	b.WriteString(". Omit fields that are not present in the request.\n\nRequest:\n")
	b.WriteString(text)
	return b.String()
}

func parseClassifierOutput(content string) (*classifierOutput, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i >= 0 {
		if j := strings.LastIndex(content, "}"); j > i {
			content = content[i : j+1]
		}
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	return &out, nil
}
