/*
Package scf downloads, merges and relabels the summary extract of the
Federal Reserve's Survey of Consumer Finances (SCF).

The survey is published every three years as one zip archive per wave,
in Stata dta, SAS7BDAT and CSV form.  The package works in three
stages:

  - A Fetcher downloads the archive for each wave and extracts it into
    a raw-data directory.  Archives already on disk are not downloaded
    again.

  - A Merger reads every per-year file in the raw-data directory, tags
    its rows with the survey year, and writes the concatenation as a
    single longitudinal table.

  - A Processor adds descriptive labels for the categorical codes, an
    age group, a few ratio and rescaled money columns, and within-year
    deciles of financial assets, then writes the published column
    subset back out as Stata files.

The readers for the three formats return data as Series values, a
simple column-oriented container holding float64 or string data with a
missing-value mask.  A Table is an ordered collection of equal-length
Series.  The Stata and SAS readers can read a file by chunks, and both
satisfy the StatfileReader interface.
*/
package scf
