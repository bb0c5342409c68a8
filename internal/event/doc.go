/*
Package event provides the publish/subscribe primitives used across cliagent.

There are two layers.

# Typed emitters

Emitter[T] is a synchronous, ordered publish point for a single event kind.
The agent runtime exposes one emitter per event-log kind (user.message,
assistant.message, tool.execution_start, tool.execution_complete,
session.error). A session subscribes for the duration of one request and
collects the handles in a Store, which is closed when the request ends:

	var store event.Store
	defer store.Close()

	store.Add(agent.OnAssistantMessage(func(d *types.AssistantMessageData) {
		stream.Markdown(d.Content)
	}))

# Application bus

Bus carries notifications between components (sessions changed, session
status, file edited, permission required/replied). Direct subscribers receive
the typed payload. Each event is also published as JSON on a watermill
gochannel topic named after the event type, which is how the HTTP server's
SSE endpoint consumes it:

	msgs, _ := bus.Messages(ctx)
	for msg := range msgs {
		write(msg.Payload)
		msg.Ack()
	}
*/
package event
