package netio

import "syscall"

// syscallENETUNREACH and syscallEHOSTUNREACH name the two transient
// send errno values the emitter must not retry on (spec §4.4 step 5,
// §7 network-unreachable/host-unreachable).
func syscallENETUNREACH() error { return syscall.ENETUNREACH }
func syscallEHOSTUNREACH() error { return syscall.EHOSTUNREACH }
