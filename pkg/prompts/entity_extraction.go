package prompts

import (
	"fmt"
	"strings"
)

// ArticleContext provides the article fields sent to the model for entity
// extraction. Text holds one text source; multi-source articles get one
// prompt per source.
type ArticleContext struct {
	Title       string
	Source      string // executive_summary, technical_summary, or original
	PublishedAt string // RFC 3339, empty if unknown
	Text        string
}

// BuildEntityExtractionPrompt creates the prompt for extracting threat
// intelligence entities from one article text source. It includes the
// article content, entity kind definitions, extraction guidelines for
// defanged indicators, and the JSON response format.
func BuildEntityExtractionPrompt(article ArticleContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Threat Intelligence Entity Extraction\n\n")
	prompt.WriteString("Extract every security entity mentioned in the following article text.\n\n")

	// Article context
	prompt.WriteString("## Article\n\n")
	if article.Title != "" {
		prompt.WriteString(fmt.Sprintf("Title: %s\n", article.Title))
	}
	if article.PublishedAt != "" {
		prompt.WriteString(fmt.Sprintf("Published: %s\n", article.PublishedAt))
	}
	prompt.WriteString(fmt.Sprintf("Text source: %s\n\n", article.Source))
	prompt.WriteString("```\n")
	prompt.WriteString(article.Text)
	prompt.WriteString("\n```\n\n")

	// Entity kinds
	prompt.WriteString("## Entity Kinds\n\n")
	prompt.WriteString("**indicator** - atomic observables. Set `indicator_type` to one of:\n")
	prompt.WriteString("- `ip`: IPv4 or IPv6 addresses\n")
	prompt.WriteString("- `domain`: fully qualified domain names\n")
	prompt.WriteString("- `url`: full URLs including scheme and path\n")
	prompt.WriteString("- `hash`: MD5, SHA-1, or SHA-256 file hashes\n")
	prompt.WriteString("- `email`: email addresses used by the attacker\n")
	prompt.WriteString("- `cve`: CVE identifiers (e.g., CVE-2024-21412)\n\n")

	prompt.WriteString("**technique** - MITRE ATT&CK technique IDs (e.g., T1566 or T1566.001).\n")
	prompt.WriteString("Only report a technique when the article states the ID or describes the\n")
	prompt.WriteString("technique unambiguously enough to name its ID. The value must be the ID,\n")
	prompt.WriteString("not the technique name.\n\n")

	prompt.WriteString("**threat_actor** - named intrusion sets, APT groups, or ransomware crews\n")
	prompt.WriteString("(e.g., \"Scattered Spider\", \"APT29\", \"LockBit\"). Report each name the\n")
	prompt.WriteString("article uses, including aliases, as separate entities.\n\n")

	// Extraction guidelines
	prompt.WriteString("## Extraction Guidelines\n\n")
	prompt.WriteString("- Report defanged indicators exactly as written (hxxp://, example[.]com,\n")
	prompt.WriteString("  192.168.1[.]1). Do not refang; normalization happens downstream.\n")
	prompt.WriteString("- Skip indicators that appear only as benign examples or vendor\n")
	prompt.WriteString("  infrastructure (the reporting outlet's own domain, sandbox IPs).\n")
	prompt.WriteString("- Skip generic terms: \"phishing\" alone is not a technique, \"malware\"\n")
	prompt.WriteString("  alone is not an actor.\n")
	prompt.WriteString("- `confidence` is 0-100: how certain you are this is a real entity of\n")
	prompt.WriteString("  that kind used maliciously, given the article context.\n")
	prompt.WriteString("- `evidence` is the shortest quote from the text that supports the\n")
	prompt.WriteString("  extraction (at most one sentence).\n\n")

	// Output format
	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond with a JSON array. Each element:\n")
	prompt.WriteString("- `kind`: one of \"indicator\", \"technique\", \"threat_actor\"\n")
	prompt.WriteString("- `value`: the entity as written in the text\n")
	prompt.WriteString("- `indicator_type`: required for indicators, omit otherwise\n")
	prompt.WriteString("- `confidence`: 0-100\n")
	prompt.WriteString("- `evidence`: supporting quote\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`[
  {
    "kind": "indicator",
    "value": "malicious-update[.]com",
    "indicator_type": "domain",
    "confidence": 95,
    "evidence": "victims were redirected to malicious-update[.]com to fetch the second stage"
  },
  {
    "kind": "technique",
    "value": "T1486",
    "confidence": 90,
    "evidence": "the payload encrypted file shares for impact"
  },
  {
    "kind": "threat_actor",
    "value": "Scattered Spider",
    "confidence": 85,
    "evidence": "researchers attribute the intrusion to Scattered Spider"
  }
]
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("Return ONLY the JSON array, no additional text. Return [] when the text\n")
	prompt.WriteString("contains no entities.\n")

	return prompt.String()
}

// BuildEntityExtractionSystemMessage returns the system message for the LLM.
func BuildEntityExtractionSystemMessage() string {
	return `You are a threat intelligence analyst. Your task is to extract indicators of compromise, MITRE ATT&CK techniques, and threat actor names from security news articles with high precision.`
}
