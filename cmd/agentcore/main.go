// Command agentcore is the operator-facing entry point for the agent
// runtime: it can start an agent itself (run) or drive one already
// running, over its monitor HTTP API (plugin, timer).
package main

func main() {
	Execute()
}
