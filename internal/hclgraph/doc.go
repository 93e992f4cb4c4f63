// Package hclgraph loads execution graph definitions written in HCL and
// translates them into the format-agnostic config model.
package hclgraph
