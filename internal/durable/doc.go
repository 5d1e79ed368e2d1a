// Package durable runs implementation sessions as Temporal workflows.
//
// ImplementationWorkflow owns the session state. Each phase runs as a Step
// activity over the same workflow.Engine the in-process controller uses.
// Gates, resume, revise and abandon arrive as signals and the current
// session is served by the "status" query. Client implements
// workflow.Service on top of a Temporal client so every front end can use
// either driver.
package durable
