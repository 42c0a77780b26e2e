// Package agent implements the step-wise controller that drives a model
// through think/tool-call/observe cycles until it produces a final answer or
// exhausts its step budget. Tool calls requested within one model turn run as
// a bounded parallel batch whose results rejoin the conversation in request
// order.
package agent
