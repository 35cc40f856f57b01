// Package prometheus renders goVerify metrics in the Prometheus text
// exposition format. Callers mount Handler on their own router.
package prometheus
