package services

import (
	"fmt"
	"sort"
	"strings"

	"storefront-agent/models"
)

const (
	MaxPolicyRunes          = 1500
	MaxItemDescriptionRunes = 300
	MaxCatalogSectionRunes  = 4000
)

// HoursStatus is the store-hours collaborator's answer for the current turn.
type HoursStatus struct {
	Known bool
	Open  bool
}

// PromptInput is everything the instruction block is rendered from.
type PromptInput struct {
	Tenant              models.TenantConfig
	Hours               HoursStatus
	Candidates          []Candidate
	EscalationTriggered bool
}

// AssemblePrompt renders the instruction block for the completion service.
// Output depends only on the input, and sections always appear in the same
// order. Optional sections with no content are omitted.
func AssemblePrompt(in PromptInput) string {
	t := in.Tenant.WithDefaults()

	var b strings.Builder
	writeSection(&b, "IDENTITY", identitySection(t))
	writeSection(&b, "TONE", fmt.Sprintf("Use a %s tone.", t.Tone))
	writeSection(&b, "INSTRUCTIONS", instructionsSection(t))
	writeSection(&b, "FAQS AND OFFERS", faqSection(t))
	writeSection(&b, "STORE HOURS", hoursSection(in.Hours))
	writeSection(&b, "POLICIES", policiesSection(t.Policies))
	writeSection(&b, "FORBIDDEN TOPICS", forbiddenSection(t.ForbiddenTopics))
	writeSection(&b, "CATALOG", catalogSection(in.Candidates))
	writeSection(&b, "RESPONSE GUIDELINES", guidelinesSection(t, in.EscalationTriggered))

	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}

func identitySection(t models.TenantConfig) string {
	s := fmt.Sprintf("You are the customer assistant for %q (tenant: %s).", t.BusinessName, t.TenantID)
	if t.Language != "" {
		s += fmt.Sprintf(" Reply in the customer's language; the store's primary language is %s.", t.Language)
	}
	return s
}

func instructionsSection(t models.TenantConfig) string {
	var lines []string
	if s := strings.TrimSpace(t.Instructions); s != "" {
		lines = append(lines, s)
	}
	for _, rule := range t.CustomRules {
		if rule = strings.TrimSpace(rule); rule != "" {
			lines = append(lines, "- "+rule)
		}
	}
	return strings.Join(lines, "\n")
}

func faqSection(t models.TenantConfig) string {
	var lines []string
	for _, f := range t.FAQs {
		q := strings.TrimSpace(f.Question)
		a := truncateRunes(strings.TrimSpace(f.Answer), MaxPolicyRunes)
		if q == "" || a == "" {
			continue
		}
		lines = append(lines, "Q: "+q, "A: "+a)
	}
	var offers []string
	for _, o := range t.Offers {
		if o = strings.TrimSpace(o); o != "" {
			offers = append(offers, "- "+o)
		}
	}
	if len(offers) > 0 {
		lines = append(lines, "Current offers:")
		lines = append(lines, offers...)
	}
	return strings.Join(lines, "\n")
}

func hoursSection(h HoursStatus) string {
	if !h.Known {
		return ""
	}
	if h.Open {
		return "The store is currently open."
	}
	return "The store is currently closed. Tell the customer a team member will follow up during business hours if they need a person."
}

func policiesSection(p models.Policies) string {
	entries := []struct{ name, text string }{
		{"Shipping", p.Shipping},
		{"Returns", p.Returns},
		{"Payment", p.Payment},
		{"Warranty", p.Warranty},
	}
	var lines []string
	for _, e := range entries {
		if text := truncateRunes(strings.TrimSpace(e.text), MaxPolicyRunes); text != "" {
			lines = append(lines, e.name+": "+text)
		}
	}
	return strings.Join(lines, "\n")
}

func forbiddenSection(topics []string) string {
	var list []string
	for _, topic := range topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			list = append(list, "- "+topic)
		}
	}
	if len(list) == 0 {
		return ""
	}
	return "You must refuse to discuss the following topics. If the customer asks about any of them, " +
		"politely decline and do not provide any information about it:\n" + strings.Join(list, "\n")
}

// catalogSection lists candidates best first. Whole candidates are dropped
// from the tail once the section would exceed MaxCatalogSectionRunes.
func catalogSection(candidates []Candidate) string {
	header := "Only recommend products from this list. Never invent products, prices or availability."
	if len(candidates) == 0 {
		return "No catalog items matched the current message. Never invent products, prices or availability."
	}

	var b strings.Builder
	b.WriteString(header)
	used := len([]rune(header))
	for i, c := range candidates {
		entry := "\n" + candidateLine(i+1, &c.Item)
		n := len([]rune(entry))
		if used+n > MaxCatalogSectionRunes {
			break
		}
		b.WriteString(entry)
		used += n
	}
	return b.String()
}

func candidateLine(n int, item *models.CatalogItem) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d. %s", n, CleanField(item.Name)))
	if item.Price > 0 {
		parts = append(parts, "price "+FormatPrice(item.Price, item.Currency))
	}
	if c := CleanField(item.Category); c != "" {
		parts = append(parts, "category "+c)
	}

	keys := make([]string, 0, len(item.VariantAttributes))
	for k := range item.VariantAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var values []string
		for _, v := range item.VariantAttributes[k] {
			if v = CleanField(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			parts = append(parts, CleanField(k)+": "+strings.Join(values, ", "))
		}
	}

	if d := truncateRunes(CleanField(item.Description), MaxItemDescriptionRunes); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " | ")
}

func guidelinesSection(t models.TenantConfig, escalated bool) string {
	lines := []string{
		fmt.Sprintf("- Keep your reply under %d characters.", t.MaxResponseLength),
		"- Answer the customer's latest message directly.",
		"- Mention products by their exact catalog name.",
		"- If you do not know the answer, say so and offer to connect the customer with the team.",
	}
	if escalated {
		lines = append(lines, "- "+t.EscalationAck)
	}
	return strings.Join(lines, "\n")
}
