// Package dispatcher runs work concurrently: Run executes a batch of tasks
// on a bounded pool, and Dispatcher fans crawl job workers out over the job
// queue.
package dispatcher
