package patterns

// =============================================================================
// DEFAULT PATTERN DEFINITIONS BY CATEGORY
// The built-in rule set shipped with the engine. All matchers are compiled
// once when DefaultCatalog is constructed.
// =============================================================================

// DefaultCatalog builds a catalog populated with the built-in rule set.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	c.registerDirectInjectionPatterns()
	c.registerJailbreakPatterns()
	c.registerPromptExtractionPatterns()
	c.registerToolPoisoningPatterns()
	c.registerPolicyInjectionPatterns()
	c.registerIndirectInjectionPatterns()
	c.registerExfiltrationPatterns()
	c.registerCredentialPatterns()

	return c
}

// --- DIRECT PROMPT INJECTION ---
func (c *Catalog) registerDirectInjectionPatterns() {
	cat := CategoryDirectInjection

	c.register("instruction_override", "Instruction override attempt", SeverityCritical, cat,
		"Reject the payload and review the originating server",
		`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`,
		`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|training|rules?)`,
		`(?i)forget\s+(everything|all)\s+(above|before|you\s+were\s+told)`)

	c.register("new_instructions", "Replacement instruction injection", SeverityCritical, cat,
		"Reject the payload and review the originating server",
		`(?i)your\s+new\s+(instructions?|rules?|task)\s+(is|are)`,
		`(?i)from\s+now\s+on[,\s]+(you|your|only|always|never)`,
		`(?i)the\s+previous\s+context\s+is\s+(invalid|void|cancelled)`)

	c.register("override_markers", "Inline override markers buried in content", SeverityHigh, cat,
		"Strip the marker and quarantine the source document",
		`(?i)\[SYSTEM\s*:\s*(override|ignore|bypass|disable)`,
		`(?i)\bIMPORTANT\s*:\s*(ignore|bypass|override)\b`,
		`(?i)\bURGENT\s*:\s*(ignore|bypass|override)\b`,
		`(?i)(#|//)\s*(ignore|bypass|override)\s+(all\s+)?(previous\s+)?instructions?`)

	c.register("system_tag_injection", "System/admin tag injection", SeverityHigh, cat,
		"Escape or strip role tags before forwarding",
		`(?i)<\s*system\s*>|\[\s*system\s*\]`,
		`(?i)<\s*admin\s*>|\[\s*admin\s*\]`)
}

// --- JAILBREAK ---
func (c *Catalog) registerJailbreakPatterns() {
	cat := CategoryJailbreak

	c.register("persona_hijack", "Unrestricted persona injection", SeverityHigh, cat,
		"Block and flag the server for manual review",
		`(?i)you\s+are\s+now\s+(a|an|the)?\s*(evil|unrestricted|unfiltered|uncensored|jailbroken)`,
		`(?i)(pretend|imagine|act\s+as\s+if|suppose)\s+(you'?re?|you\s+are|to\s+be)\s+(an?\s+)?(evil|unrestricted|unfiltered|jailbroken)`,
		`(?i)act\s+as\s+if\s+you\s+have\s+no\s+restrictions?`)

	c.register("mode_jailbreak", "Developer/sudo mode jailbreak", SeverityHigh, cat,
		"Block and flag the server for manual review",
		`(?i)(developer|jailbreak|sudo)\s+mode`,
		`(?i)\bDAN\b.*\bmode\b`)

	c.register("amoral_framing", "Amoral or no-ethics framing", SeverityHigh, cat,
		"Block and flag the server for manual review",
		`(?i)(completely\s+)?amoral\s+(AI|assistant|model|bot)`,
		`(?i)without\s+(any\s+)?regards?\s+(for|to)\s+(legality|morality|ethics)`,
		`(?i)free\s+of\s+all\s+(restrictions?|filters?|rules?|limits?)`)

	c.register("fiction_frame", "Fiction framing around attack content", SeverityMedium, cat,
		"Inspect the surrounding request before allowing",
		`(?i)writing\s+.*?(novel|story|screenplay|script).*?(antagonist|villain|hacker|attacker|payload)`)
}

// --- PROMPT EXTRACTION ---
func (c *Catalog) registerPromptExtractionPatterns() {
	cat := CategoryPromptExtraction

	c.register("prompt_reveal", "System prompt reveal request", SeverityHigh, cat,
		"Deny and audit the requesting server",
		`(?i)(reveal|show|display|output|print|leak)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions?)`,
		`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?)`,
		`(?i)repeat\s+(everything|all|the\s+(text|words))\s+(above|before|preceding)`)

	c.register("prompt_exfil_transform", "Prompt exfiltration via transformation", SeverityHigh, cat,
		"Deny and audit the requesting server",
		`(?i)(encode|convert|translate)\s+.*instructions?.*(base64|hex|rot13|binary|into)`,
		`(?i)(first|starting)\s+(letter|character|word)\s+of\s+each`)

	c.register("internal_state_probe", "Internal state/config probe", SeverityMedium, cat,
		"Deny and audit the requesting server",
		`(?i)enter\s+debug\s+mode`,
		`(?i)show\s+(all\s+)?internal\s+(parameters|config|state)`,
		`(?i)output\s+your\s+model\s+(weights|architecture|parameters)`)
}

// --- TOOL POISONING ---
func (c *Catalog) registerToolPoisoningPatterns() {
	cat := CategoryToolPoisoning

	c.register("hidden_instruction_tags", "Hidden instruction markers in tool metadata", SeverityCritical, cat,
		"Quarantine the server and diff its tool descriptions",
		`(?i)<\s*(IMPORTANT|HIDDEN)\s*>`,
		`(?i)\[\s*HIDDEN\s*\]`)

	c.register("secrecy_instruction", "Instructions to act behind the user's back", SeverityCritical, cat,
		"Quarantine the server and diff its tool descriptions",
		`(?i)do\s+not\s+(mention|tell|inform)\s+(this\s+to\s+)?the\s+user`,
		`(?i)don'?t\s+tell\s+the\s+user`,
		`(?i)without\s+(the\s+)?user'?s?\s+knowledge`,
		`(?i)keep\s+this\s+(secret|hidden)`)

	c.register("covert_side_effect", "Covert read/send side effects in tool output", SeverityHigh, cat,
		"Quarantine the server and diff its tool descriptions",
		`(?i)silently\s+(log|send|copy|read)`,
		`(?i)in\s+the\s+background[,\s]+(send|transmit|upload)`,
		`(?i)before\s+executing.*first\s+read`,
		`(?i)also\s+(send|exfiltrate|transmit)\s`)
}

// --- POLICY INJECTION ---
func (c *Catalog) registerPolicyInjectionPatterns() {
	cat := CategoryPolicyInjection

	c.register("safety_toggle", "Safety flag toggled off in structured payload", SeverityHigh, cat,
		"Reject the payload; config fields are not writable via content",
		`(?i)safety[_\-\s]*(enabled|mode|check|filter)["\s:=]+\s*(false|off|disabled|0|none|null)`,
		`(?i)restrictions?["\s:=]+\s*(none|off|disabled|false|null|0)`)

	c.register("nl_safety_disable", "Natural-language safety override", SeverityHigh, cat,
		"Reject the payload",
		`(?i)(disable|turn\s+off|deactivate|remove|bypass)\s+(your\s+)?(safety|content)\s*(filter|check|guideline|feature)s?`,
		`(?i)(ignore|disregard|bypass|override)\s+(your\s+)?(safety|content|ethical)\s*(guideline|rule|restriction|filter|check)s?`,
		`(?i)proceed\s+(with\s+)?(without|no)\s+(restrictions?|limits?|filters?|safety)`)

	c.register("unsafe_mode_request", "Unsafe mode or elevated trust request", SeverityHigh, cat,
		"Reject the payload",
		`(?i)mode["\s:=]+\s*["']?(unrestricted|unfiltered|raw|unsafe|jailbreak|admin|root)["']?`,
		`(?i)(admin|root|system)[_\-\s]*(override|access|privileges?)["\s:=]+\s*(true|enabled|1|on|yes)`)
}

// --- INDIRECT INJECTION (in server responses / fetched content) ---
func (c *Catalog) registerIndirectInjectionPatterns() {
	cat := CategoryIndirectInj

	c.register("indirect_override", "Instruction override inside returned content", SeverityHigh, cat,
		"Strip the content and lower the server's trust",
		`(?i)when\s+you\s+(see|read)\s+this.*?(execute|run|do)`,
		`(?i)your\s+real\s+task\s+is`)

	c.register("indirect_execute", "Command execution marker in returned content", SeverityMedium, cat,
		"Strip the content and lower the server's trust",
		`(?i)execute\s+the\s+following`,
		`(?i)run\s+this\s+command`)

	c.register("markdown_exfil", "Markdown/HTML beacon exfiltration", SeverityHigh, cat,
		"Strip embedded resources from the response",
		`!\[.*?\]\(https?://[^)]*\?[^)]*=`,
		`<img[^>]+src=["'][^"']*\?[^"']*=["']`,
		`style=["'][^"']*display\s*:\s*none`)
}

// --- DATA EXFILTRATION ---
func (c *Catalog) registerExfiltrationPatterns() {
	cat := CategoryExfiltration

	c.register("exfil_request", "Request to ship data to an external sink", SeverityCritical, cat,
		"Block and quarantine the server",
		`(?i)send\s+(all\s+)?(conversation|chat|history|credentials?|secrets?)\s+to`,
		`(?i)(upload|post|transmit)\s+.*(to|at)\s+https?://`)

	c.register("exfil_services", "Known out-of-band exfiltration services", SeverityHigh, cat,
		"Block and quarantine the server",
		`(?i)webhook\.site`,
		`(?i)requestbin\.`,
		`(?i)burpcollaborator\.net`,
		`(?i)oastify\.com`,
		`(?i)interactsh\.com`)

	c.register("pii_ssn", "Social Security Number in payload", SeverityHigh, cat,
		"Redact before forwarding",
		`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)
}

// --- CREDENTIAL LEAKS ---
func (c *Catalog) registerCredentialPatterns() {
	cat := CategoryCredential

	c.register("aws_access_key", "AWS access key ID", SeverityHigh, cat,
		"Rotate the key and audit the server",
		`AKIA[0-9A-Z]{16}`)

	c.register("github_token", "GitHub token", SeverityHigh, cat,
		"Rotate the token and audit the server",
		`(ghp|gho|ghu|ghs|ghr)_[0-9a-zA-Z]{36}`)

	c.register("openai_api_key", "OpenAI API key", SeverityHigh, cat,
		"Rotate the key and audit the server",
		`sk-(proj-)?[A-Za-z0-9_\-]{20,}`)

	c.register("slack_token", "Slack token", SeverityHigh, cat,
		"Rotate the token and audit the server",
		`xox[bp]-[0-9]{10,13}-[a-zA-Z0-9-]{10,}`)

	c.register("private_key_block", "Private key material", SeverityCritical, cat,
		"Rotate the key immediately and quarantine the server",
		`(?i)-----BEGIN\s+(RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY`)

	c.register("db_uri_credentials", "Database URI with embedded credentials", SeverityHigh, cat,
		"Rotate the credentials and audit the server",
		`(?i)(postgres(ql)?|mysql|mongodb(\+srv)?|redis|amqp)://[^:/\s]+:[^@\s]+@`)

	c.register("bearer_token", "Bearer token in payload", SeverityMedium, cat,
		"Rotate the token",
		`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`)
}
