// Package plugins hosts the scenario plugins shipped with relinfer. Each
// subpackage implements core.Plugin and builds its models from pkg/model;
// the architecture test here keeps them off the storage and chain packages.
package plugins
