// Package hcl provides the concrete HCL implementation of the flow
// Loader interface defined in the `config` package. It is responsible for
// all file parsing, HCL-to-model translation, and CTY-to-Go conversion of
// node configuration. It performs structural validation only (duplicate
// node ids, dangling routes, missing entry) and treats node
// configuration as opaque data.
package hcl
