package providers

// wellKnownBaseURLs are the documented OpenAI-compatible endpoints used when a
// provider config has no base URL. Keys match provider names as configured.
var wellKnownBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"xai":        "https://api.x.ai/v1",
	"together":   "https://api.together.xyz/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"perplexity": "https://api.perplexity.ai",
	"cerebras":   "https://api.cerebras.ai/v1",
	"moonshot":   "https://api.moonshot.cn/v1",
	"minimax":    "https://api.minimax.chat/v1",
	"nebius":     "https://api.studio.nebius.ai/v1",
	"novita":     "https://api.novita.ai/v3/openai",
	"zai":        "https://api.z.ai/api/openai/v1",
}
