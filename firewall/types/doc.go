// Package types contains the rule, command and validation types shared by the
// firewall packages. They are defined separately from the main firewall package
// so that the command builders and runners don't depend on the manager, and
// vice versa.
package types
