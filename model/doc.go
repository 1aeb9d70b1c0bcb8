// Package model defines stable boundary types for API layers.
//
// Content identity (block bytes and their CIDs) is unaffected by any
// projection. These structs are the only types intended for direct JSON
// serialization by consumers, together with the error taxonomy every
// layer reports through.
package model
