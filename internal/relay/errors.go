package relay

import "fmt"

// errRejectedHost and errDuplicateConnect are returned by Registry.Accept;
// both are expected, routine outcomes rather than faults. Accept itself
// logs a duplicate connect at most once per host per
// duplicateConnectLogThrottle window.
func errRejectedHost(host string) error {
	return fmt.Errorf("relay: host %q rejected (uptime monitor)", host)
}

func errDuplicateConnect(host string) error {
	return fmt.Errorf("relay: duplicate connect from %q", host)
}
