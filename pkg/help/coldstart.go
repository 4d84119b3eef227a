package help

const ColdstartYAML = `# wcmr Quick Start

what_it_does: "Counts word occurrences across files, directories and URLs with a local map/reduce job"

pipeline:
  - "split: inputs are cut into byte ranges on line boundaries (one per worker by default)"
  - "map: each split is tokenized on whitespace and emits (word, 1)"
  - "combine: counts are pre-summed per map task (disable with --no-combiner)"
  - "shuffle: pairs are grouped by partition and sorted by word"
  - "reduce: one task per partition sums the counts"
  - "commit: part-r-NNNNN files appear in the output dir with a _SUCCESS marker"

commands:
  basic_count: |
    wcmr run --output out books/

  several_partitions: |
    wcmr run --output out --partitions 4 --workers 8 books/ notes.txt

  web_pages: |
    wcmr run --output out --format html --normalize --languages https://example.com/article

  from_config: |
    wcmr run --config job.yaml

  large_inputs: |
    wcmr run --output out --spill sqlite --spill-dir /tmp big-corpus/

  read_output: |
    wcmr cat out
    wcmr cat out | sort -t$'\t' -k2 -nr | head

  history: |
    wcmr jobs
    wcmr job <job-id>
    wcmr job delete <job-id>

job_yaml_example: |
  inputs:
    - books/
    - https://example.com/article
  output: out
  workers: 8
  partitions: 4
  max_retries: 3
  retry_backoff: 250ms
  combiner: true
  normalize: true
  format: text
  spill: memory
  cache_dir: .wcmr-cache
  cache_ttl: 24h
  fetch_timeout: 60s
  detect_languages: false
  top_keywords: 25

output_layout:
  - "out/part-r-00000 ... part-r-<R-1>: word<TAB>count, sorted by word"
  - "out/_SUCCESS: written last, only when every partition committed"
  - "out/_manifest.yaml: counters, partition checksums, top keywords"
  - "out/_temporary: staging area, removed on commit or failure"

invariants:
  - "Every word appears in exactly one partition"
  - "Results are identical for any partition count, worker count or combiner setting"
  - "Failed tasks are retried from scratch; partial output never reaches the shuffle"
  - "Directory inputs skip files starting with _ or ."

error_behavior:
  - "Existing non-empty output dir: refused unless --overwrite"
  - "Failed overwrite: the previous output is moved back and stays committed"
  - "Missing input: job fails before any output is written"
  - "Exit codes: 0=success, 1=task failure or retry limit, 2=bad input or usage, 3=output conflict, 130=interrupted"
`
