// Package provider builds the Eino chat models used by the local agent
// runtime.
//
// Anthropic (claude), OpenAI-compatible and Volcengine ARK providers are
// supported. Each provider wraps one model.ToolCallingChatModel; the Registry
// resolves "provider/model" strings from configuration to a provider and the
// model ID to request from it.
//
// API keys come from the configuration file or the usual environment
// variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, ARK_API_KEY).
package provider
