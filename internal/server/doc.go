// Package server exposes the session service over HTTP.
//
// Routes:
//
//	GET    /session                     list sessions
//	POST   /session                     create a session and stream its first request
//	GET    /session/{id}                status, model, pending permission and diffs
//	DELETE /session/{id}                delete a session
//	POST   /session/{id}/message        stream a request cycle (newline-delimited JSON)
//	POST   /session/{id}/note           append a synthetic user or assistant message
//	GET    /session/{id}/history        rebuilt chat transcript
//	GET    /session/{id}/diff           file changes made by the agent
//	GET    /permission                  permission requests waiting for a reply
//	POST   /permission/{promptID}       reply once, always or reject
//	GET    /event                       bus events as Server-Sent Events
//
// While a request cycle runs, permission requests that the session policy
// cannot decide wait in the Prompter until a client replies.
package server
