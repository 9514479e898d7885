// Package assets persists artwork candidates and the content-addressed blob
// cache backing them, plus the provider refresh log and provider
// configuration rows, all in the library database.
package assets
