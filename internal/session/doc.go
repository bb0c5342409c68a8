// Package session manages the agent conversations of the process.
//
// A Session wraps one runtime session and runs its request cycles: it
// forwards assistant text and tool invocations to an attached Stream,
// answers the runtime's permission requests through a permission.Broker and
// tracks the file edits the agent makes.
//
// The Service shares sessions between callers. GetSession and
// CreateSession return a RefCounted reference that must be released; a
// session is disposed when its last reference is released, when it is
// deleted, or when it has been idle for the configured timeout. GetSession
// calls for the same id are serialized by a per-id Mutex so the runtime
// resumes a session only once:
//
//	svc := session.NewService(session.Config{Runtime: rt})
//	ref, err := svc.GetSession(ctx, id, session.Options{})
//	if err != nil || ref == nil {
//		return err
//	}
//	defer ref.Release()
//	detach := ref.AttachStream(out)
//	defer detach()
//	err = ref.HandleRequest(ctx, "add a test for the parser", nil, "")
package session
