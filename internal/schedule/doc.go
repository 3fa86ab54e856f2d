// Package schedule runs periodic index updates on cron specs.
package schedule
