// Package config loads cliagent configuration and resolves its data paths.
//
// Configuration is merged from, in increasing priority:
//
//   - a .env file in the project directory (variables already set win)
//   - the global config directory (~/.config/cliagent or $XDG_CONFIG_HOME/cliagent)
//   - cliagent.json, cliagent.jsonc, cliagent.yaml in the project directory
//     and in its .cliagent directory
//   - the file named by CLIAGENT_CONFIG
//   - inline JSON in CLIAGENT_CONFIG_CONTENT
//   - environment variables (CLIAGENT_MODEL, CLIAGENT_ISOLATION,
//     CLIAGENT_IDLE_TIMEOUT, CLIAGENT_LOG_LEVEL, CLIAGENT_STORAGE,
//     CLIAGENT_PERMISSION and the provider API keys)
//
// JSON files may contain comments and trailing commas, and may reference
// {env:NAME} and {file:path} placeholders:
//
//	{
//	  // model used by new sessions
//	  "model": "anthropic/claude-sonnet-4-20250514",
//	  "provider": {"anthropic": {"apiKey": "{env:MY_KEY}"}},
//	  "isolation": true,
//	  "idleTimeout": "10m",
//	  "permission": {
//	    "confirmEdits": ["**/.env*", "**/go.mod"],
//	    "shell": {"git status": "allow", "go test *": "allow", "rm *": "deny"}
//	  }
//	}
package config
