// Package apply updates an installed application tree from a container.
//
// Platform-independent files and the files of the host platform module
// (with the module root stripped) are compared with the installed copies.
// Files whose digest differs are replaced through go-update, which verifies
// the new content before swapping it in. Nothing is replaced while a running
// process executes one of the files about to change, and a marker file in
// the install directory keeps two apply runs from overlapping.
package apply
