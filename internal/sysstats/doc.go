// Package sysstats samples host memory and GPU usage for the toolbar.
package sysstats
