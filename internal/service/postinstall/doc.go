// Package postinstall runs the external build commands of the installed tool
// inside its extraction directory, guarded by a completion marker file.
package postinstall
