// Package workflow drives one work item from intake to tracker update
// through a fixed sequence of gated phases.
//
// # Overview
//
// A Session moves through the phases in strict order:
//
//	prerequisites_check → understand → plan → confirm_plan (gate 1)
//	  → implement ⇄ validate → confirm_commit (gate 2) → update_work_item
//
// The only loop is validate → implement after a failed validation. Two
// confirmation gates suspend the session until a human answers yes or no.
//
// # Suspension
//
// Gates are not blocking calls. When the engine reaches a gate it records
// the question on the Session, sets Await to AwaitAnswer and returns. The
// persisted Session is the continuation: Controller.Respond loads it,
// applies the answer and continues from the same phase, possibly in a
// different process. The same holds for AwaitResume (validation failure,
// external edits, failed tracker call) and AwaitRevise (gate 1 denied).
//
// # Fresh Data
//
// The work item snapshot is never a Session field. Each phase that needs it
// (understand, plan, validate) fetches it again, so a stale copy cannot
// leak across phase boundaries or process restarts.
//
// # Key Components
//
//   - Engine: collaborators plus one Step per phase. Shared by the local
//     Controller and the Temporal workflow in internal/durable.
//   - Controller: Begin, Respond, Resume, Revise, Abandon over a
//     SessionStore, one call at a time per session.
//   - Collaborators: WorkItemSource, VersionControl, Runner, Implementer,
//     PrerequisiteChecker. Implementations live in internal/tracker,
//     internal/vcs, internal/runner and internal/agent.
//
// # Textual Contracts
//
// Gate questions, the commit message (`Work item #<id>: <summary>`) and the
// two tracker comments ("Implementation Plan", "Implementation Complete"
// with a "Commands Run" block) are fixed formats consumed by downstream
// tooling; see templates.go.
package workflow
