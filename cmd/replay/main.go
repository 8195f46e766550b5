// Command replay feeds a recorded realtime event capture through the
// telemetry router and prints the resulting dashboard state.
package main

func main() {
	Execute()
}
