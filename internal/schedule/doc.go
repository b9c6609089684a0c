// Package schedule stores daily channel switches and fires them on minute
// boundaries as the system principal.
package schedule
