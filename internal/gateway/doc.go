// Package gateway supervises the local serial-to-network daemon that exposes
// the heat pump's RS-485 adapter on a TCP port.
//
// Most installations reach the bus through a networked UART bridge and need
// nothing from this package. When the adapter is plugged into the machine
// running the bridge, a daemon such as ser2net or socat turns it into the
// tcp:// endpoint the NASA session dials. The Supervisor starts that daemon,
// restarts it with a growing delay when it exits, and kills it when a check
// (normally a TCP dial of the endpoint) keeps failing.
//
//	sup := gateway.NewSupervisor(gateway.Config{
//	    Name:   "ser2net",
//	    Binary: "/usr/sbin/ser2net",
//	    Args:   []string{"-n", "-c", "/etc/ser2net.yaml"},
//	    Check:  gateway.DialCheck("127.0.0.1:8899"),
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package gateway
