// Package httpapi exposes command submission and outcome queries over HTTP
// with echo.
package httpapi
