// Package losslog exports the expiration loss log as a spreadsheet.
//
// The workbook has two sheets: "Losses" with one row per entry, oldest
// first, and "Summary" with the amount and value lost per commodity.
//
// # HTTP Endpoints
//
//   - GET /losslog/export : Downloads the workbook (?count= limits to the most recent entries).
package losslog
